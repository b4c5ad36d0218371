package migrations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const exampleRoot = "../../testdata/example_migrations"

// writeMigration writes a migration module under root/app/migrations and
// returns its path.
func writeMigration(t *testing.T, root, app, name, body string) string {
	t.Helper()

	dir := filepath.Join(root, app, MigrationsDirName)
	require.NoError(t, os.MkdirAll(dir, 0755))

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// migrationModule wraps an operations list body in a Migration class.
func migrationModule(operations string) string {
	return `from django.db import migrations, models


class Migration(migrations.Migration):

    dependencies = []

    operations = [
` + operations + `
    ]
`
}

func createWidget(countField string) string {
	return migrationModule(`        migrations.CreateModel(
            name="Widget",
            fields=[
                ("id", models.AutoField(primary_key=True)),
                ("count", ` + countField + `),
            ],
        ),`)
}

func alterCount(field string) string {
	return migrationModule(`        migrations.AlterField(
            model_name="Widget",
            name="count",
            field=` + field + `,
        ),`)
}

// appFromDir discovers a single app under root.
func appFromDir(t *testing.T, root, app string) *Application {
	t.Helper()

	apps, err := Discover(root)
	require.NoError(t, err)
	require.Contains(t, apps, app)
	return apps[app]
}
