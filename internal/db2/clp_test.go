package db2

import (
	"testing"

	"db2backup/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestCLP_Backup(t *testing.T) {
	clp := CLP{Path: "/opt/ibm/db2/bin/db2"}

	tests := []struct {
		name string
		opts BackupOptions
		want string
	}{
		{
			name: "full online compressed",
			opts: BackupOptions{Database: "SAMPLE", Online: true, Type: config.BackupTypeFull, Destination: "/mnt/backup/SAMPLE/20261019T120000.000", Compress: true, BufferSize: 1024, Parallelism: 4},
			want: "/opt/ibm/db2/bin/db2 backup database SAMPLE online to /mnt/backup/SAMPLE/20261019T120000.000 buffer 1024 parallelism 4 compress without prompting",
		},
		{
			name: "incremental offline",
			opts: BackupOptions{Database: "SAMPLE", Type: config.BackupTypeIncremental, Destination: "/b", BufferSize: 512, Parallelism: 2},
			want: "/opt/ibm/db2/bin/db2 backup database SAMPLE incremental to /b buffer 512 parallelism 2 without prompting",
		},
		{
			name: "delta with credentials",
			opts: BackupOptions{Database: "A1234567", Credentials: Credentials{User: "backup", Password: "pw"}, Online: true, Type: config.BackupTypeDelta, Destination: "/b", BufferSize: 1, Parallelism: 1},
			want: "/opt/ibm/db2/bin/db2 backup database A1234567 user backup using pw online incremental delta to /b buffer 1 parallelism 1 without prompting",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := clp.Backup(tt.opts)
			assert.Equal(t, tt.want, cmd.Line())
			if tt.opts.Credentials.Password != "" {
				assert.NotContains(t, cmd.String(), tt.opts.Credentials.Password+" ")
			}
		})
	}
}

func TestCLP_UtilitiesNeverPromptForPassword(t *testing.T) {
	clp := CLP{Path: "db2"}
	userOnly := Credentials{User: "backupusr"}

	assert.Equal(t, "db2 deactivate database SAMPLE", clp.Deactivate("SAMPLE", userOnly).Line())
	assert.Equal(t, "db2 activate database SAMPLE", clp.Activate("SAMPLE", userOnly).Line())
	assert.Equal(t, "db2 backup database SAMPLE to /b without prompting",
		clp.Backup(BackupOptions{Database: "SAMPLE", Credentials: userOnly, Destination: "/b"}).Line())

	full := Credentials{User: "backupusr", Password: "pw"}
	assert.Equal(t, "db2 deactivate database SAMPLE user backupusr using pw", clp.Deactivate("SAMPLE", full).Line())
	assert.Equal(t, "db2 activate database SAMPLE user backupusr using pw", clp.Activate("SAMPLE", full).Line())

	// connect still tries the user-only form
	assert.Equal(t, "db2 connect to SAMPLE user backupusr", clp.Connect("SAMPLE", userOnly).Line())
}

func TestCredentialForms(t *testing.T) {
	assert.Equal(t, []Credentials{{User: "u", Password: "p"}, {User: "u"}, {}}, credentialForms("u", "p"))
	assert.Equal(t, []Credentials{{User: "u"}, {}}, credentialForms("u", ""))
	assert.Equal(t, []Credentials{{}}, credentialForms("", ""))
}

func TestParseApplicationHandles(t *testing.T) {
	out := `
Auth Id  Application    Appl.      Application Id                                                 DB       # of
         Name           Handle                                                                    Name    Agents
-------- -------------- ---------- -------------------------------------------------------------- -------- -----
DB2INST1 db2bp          123        *LOCAL.db2inst1.261019120000                                   SAMPLE   1
APPUSER  java           4567       10.0.0.5.40000.261019120001                                    SAMPLE   1
`
	assert.Equal(t, []string{"123", "4567"}, parseApplicationHandles(out))
	assert.Empty(t, parseApplicationHandles("SQL1611W  No data was returned by Database System Monitor."))
}
