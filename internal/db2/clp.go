package db2

import (
	"strconv"
	"strings"

	"db2backup/internal/config"
	"db2backup/internal/runner"
)

// Credentials is one form of authentication for a connect or utility call.
type Credentials struct {
	User     string
	Password string
}

// Form names the credential form for logs.
func (c Credentials) Form() string {
	switch {
	case c.User != "" && c.Password != "":
		return "user+password"
	case c.User != "":
		return "user"
	default:
		return "anonymous"
	}
}

// credentialForms lists forms from most to least specific.
func credentialForms(user, password string) []Credentials {
	var forms []Credentials
	if user != "" && password != "" {
		forms = append(forms, Credentials{User: user, Password: password})
	}
	if user != "" {
		forms = append(forms, Credentials{User: user})
	}
	return append(forms, Credentials{})
}

// CLP builds Db2 command line processor invocations.
type CLP struct {
	Path string
}

func (c CLP) command(args ...string) runner.Command {
	path := c.Path
	if path == "" {
		path = "db2"
	}
	return runner.NewCommand(append([]string{path}, args...)...)
}

func withCredentials(cmd runner.Command, creds Credentials) runner.Command {
	if creds.User == "" {
		return cmd
	}
	cmd.Args = append(cmd.Args, "user", creds.User)
	if creds.Password != "" {
		cmd.Args = append(cmd.Args, "using", creds.Password)
		cmd = cmd.WithSecret(creds.Password)
	}
	return cmd
}

// utilityCredentials drops a user without a password. Utilities prompt for
// the missing password, and commands read stdin from /dev/null, so they run
// under the connected or OS identity instead.
func utilityCredentials(creds Credentials) Credentials {
	if creds.Password == "" {
		return Credentials{}
	}
	return creds
}

// Query runs an SQL statement without column headers.
func (c CLP) Query(sql string) runner.Command {
	return c.command("-x", sql)
}

func (c CLP) Connect(database string, creds Credentials) runner.Command {
	return withCredentials(c.command("connect", "to", database), creds)
}

func (c CLP) ConnectReset() runner.Command {
	return c.command("connect", "reset")
}

func (c CLP) Terminate() runner.Command {
	return c.command("terminate")
}

func (c CLP) CatalogNode(node, host string, port int) runner.Command {
	return c.command("catalog", "tcpip", "node", node, "remote", host, "server", strconv.Itoa(port))
}

func (c CLP) CatalogDatabase(database, alias, node string) runner.Command {
	return c.command("catalog", "database", database, "as", alias, "at", "node", node)
}

func (c CLP) UncatalogDatabase(alias string) runner.Command {
	return c.command("uncatalog", "database", alias)
}

func (c CLP) UncatalogNode(node string) runner.Command {
	return c.command("uncatalog", "node", node)
}

func (c CLP) ListApplications(database string) runner.Command {
	return c.command("list", "applications", "for", "database", database)
}

func (c CLP) ForceApplications(handles []string) runner.Command {
	return c.command("force", "application", "("+strings.Join(handles, ", ")+")")
}

func (c CLP) Deactivate(database string, creds Credentials) runner.Command {
	return withCredentials(c.command("deactivate", "database", database), utilityCredentials(creds))
}

func (c CLP) Activate(database string, creds Credentials) runner.Command {
	return withCredentials(c.command("activate", "database", database), utilityCredentials(creds))
}

func (c CLP) GetDBConfig(database string) runner.Command {
	return c.command("get", "db", "cfg", "for", database)
}

// BackupOptions describes one BACKUP DATABASE invocation.
type BackupOptions struct {
	Database    string
	Credentials Credentials
	Online      bool
	Type        config.BackupType
	Destination string
	Compress    bool
	BufferSize  int
	Parallelism int
}

// Backup builds the BACKUP DATABASE command in clause order.
func (c CLP) Backup(o BackupOptions) runner.Command {
	cmd := withCredentials(c.command("backup", "database", o.Database), utilityCredentials(o.Credentials))
	if o.Online {
		cmd.Args = append(cmd.Args, "online")
	}
	switch o.Type {
	case config.BackupTypeIncremental:
		cmd.Args = append(cmd.Args, "incremental")
	case config.BackupTypeDelta:
		cmd.Args = append(cmd.Args, "incremental", "delta")
	}
	cmd.Args = append(cmd.Args, "to", o.Destination)
	if o.BufferSize > 0 {
		cmd.Args = append(cmd.Args, "buffer", strconv.Itoa(o.BufferSize))
	}
	if o.Parallelism > 0 {
		cmd.Args = append(cmd.Args, "parallelism", strconv.Itoa(o.Parallelism))
	}
	if o.Compress {
		cmd.Args = append(cmd.Args, "compress")
	}
	cmd.Args = append(cmd.Args, "without", "prompting")
	return cmd
}

// sqlString quotes a value as an SQL string literal.
func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// firstLine returns the first non-empty trimmed line of out.
func firstLine(out string) string {
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return ""
}
