package db2

import (
	"context"
	"fmt"
	"strings"

	"db2backup/internal/config"
	"db2backup/internal/runner"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Handle is an established session against the target database.
type Handle struct {
	Mode     config.ConnectionType
	Database string
	// Target is the name commands address: the database itself, or the
	// temporary alias for non-cataloged connections.
	Target string
	// TempNode and TempAlias are set only for non-cataloged connections.
	TempNode        string
	TempAlias       string
	AuthorizationID string
	Credentials     Credentials

	connected bool
	closed    bool
}

// Connected reports whether the CLP session is still open.
func (h *Handle) Connected() bool {
	return h != nil && h.connected
}

// ConnectionManager opens and tears down sessions and owns temporary
// catalog entries.
type ConnectionManager struct {
	runner   runner.Runner
	clp      CLP
	logger   zerolog.Logger
	newToken func() string
}

func NewConnectionManager(r runner.Runner, clp CLP, logger zerolog.Logger) *ConnectionManager {
	return &ConnectionManager{
		runner:   r,
		clp:      clp,
		logger:   logger,
		newToken: uuid.NewString,
	}
}

// tempNames derives node and alias names from an invocation token. Both are
// limited to 8 characters by Db2.
func tempNames(token string) (node, alias string) {
	suffix := strings.ToUpper(strings.ReplaceAll(token, "-", ""))
	if len(suffix) > 7 {
		suffix = suffix[:7]
	}
	return "N" + suffix, "A" + suffix
}

// Connect opens a session in the configured mode.
func (m *ConnectionManager) Connect(ctx context.Context, cfg config.BackupConfig) (*Handle, error) {
	h := &Handle{
		Mode:     cfg.ConnectionType,
		Database: cfg.DBName,
		Target:   cfg.DBName,
	}
	logger := m.logger.With().Str("db", cfg.DBName).Str("mode", string(cfg.ConnectionType)).Logger()
	logger.Info().Msg("connecting")

	switch cfg.ConnectionType {
	case config.ConnectionLocal:
		if err := m.connect(ctx, h, []Credentials{{}}); err != nil {
			return nil, err
		}
	case config.ConnectionCataloged:
		if err := m.connect(ctx, h, credentialForms(cfg.DBUser, cfg.DBPassword)); err != nil {
			return nil, err
		}
	case config.ConnectionNonCataloged:
		if err := m.connectNonCataloged(ctx, h, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown connection type %q", ErrConnectFailed, cfg.ConnectionType)
	}

	logger.Info().Str("target", h.Target).Str("credentials", h.Credentials.Form()).Msg("connected")
	return h, nil
}

func (m *ConnectionManager) connectNonCataloged(ctx context.Context, h *Handle, cfg config.BackupConfig) error {
	node, alias := tempNames(m.newToken())

	res := m.runner.Run(ctx, m.clp.CatalogNode(node, cfg.DBHost, cfg.DBPort))
	if res.Err != nil {
		// Outcome unknown; the name is ours alone so removing it is safe.
		h.TempNode = node
	}
	if res.Failed() {
		err := fmt.Errorf("%w: %w: node %s for %s:%d: %s", ErrConnectFailed, ErrCatalogFailed, node, cfg.DBHost, cfg.DBPort, res.Describe())
		return m.rollback(ctx, h, err)
	}
	h.TempNode = node
	m.logger.Debug().Str("node", node).Str("host", cfg.DBHost).Int("port", cfg.DBPort).Msg("cataloged temporary node")

	res = m.runner.Run(ctx, m.clp.CatalogDatabase(cfg.DBName, alias, node))
	if res.Err != nil {
		h.TempAlias = alias
	}
	if res.Failed() {
		err := fmt.Errorf("%w: %w: database %s as %s: %s", ErrConnectFailed, ErrCatalogFailed, cfg.DBName, alias, res.Describe())
		return m.rollback(ctx, h, err)
	}
	h.TempAlias = alias
	h.Target = alias
	m.logger.Debug().Str("alias", alias).Str("node", node).Msg("cataloged temporary database alias")

	// Refresh the directory cache so the new entries are visible.
	if res := m.runner.Run(ctx, m.clp.Terminate()); res.Failed() {
		m.logger.Warn().Str("output", res.Describe()).Msg("terminate after cataloging failed")
	}

	if err := m.connect(ctx, h, credentialForms(cfg.DBUser, cfg.DBPassword)); err != nil {
		return m.rollback(ctx, h, err)
	}
	return nil
}

// connect tries each credential form in order until one succeeds.
func (m *ConnectionManager) connect(ctx context.Context, h *Handle, forms []Credentials) error {
	var last runner.Result
	for _, creds := range forms {
		res := m.runner.Run(ctx, m.clp.Connect(h.Target, creds))
		if !res.Failed() {
			h.Credentials = creds
			h.AuthorizationID = strings.ToUpper(creds.User)
			h.connected = true
			return nil
		}
		m.logger.Warn().
			Str("target", h.Target).
			Str("credentials", creds.Form()).
			Str("output", res.Describe()).
			Msg("connect attempt failed")
		last = res
		if res.Err != nil && ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %s: %s", ErrConnectFailed, h.Target, last.Describe())
}

// rollback removes any temporary catalog entries and returns cause with
// rollback failures attached.
func (m *ConnectionManager) rollback(ctx context.Context, h *Handle, cause error) error {
	m.logger.Warn().Err(cause).Msg("connect failed, removing temporary catalog entries")
	if err := m.uncatalog(context.WithoutCancel(ctx), h); err != nil {
		return multierror.Append(cause, err)
	}
	return cause
}

func (m *ConnectionManager) uncatalog(ctx context.Context, h *Handle) error {
	var result *multierror.Error
	if h.TempAlias != "" {
		if res := m.runner.Run(ctx, m.clp.UncatalogDatabase(h.TempAlias)); res.Failed() {
			result = multierror.Append(result, fmt.Errorf("uncatalog database %s: %s", h.TempAlias, res.Describe()))
		} else {
			m.logger.Debug().Str("alias", h.TempAlias).Msg("uncataloged temporary database alias")
			h.TempAlias = ""
		}
	}
	if h.TempNode != "" {
		if res := m.runner.Run(ctx, m.clp.UncatalogNode(h.TempNode)); res.Failed() {
			result = multierror.Append(result, fmt.Errorf("uncatalog node %s: %s", h.TempNode, res.Describe()))
		} else {
			m.logger.Debug().Str("node", h.TempNode).Msg("uncataloged temporary node")
			h.TempNode = ""
		}
	}
	return result.ErrorOrNil()
}

// Reset closes the connection but keeps catalog entries, e.g. before the
// database is deactivated.
func (m *ConnectionManager) Reset(ctx context.Context, h *Handle) error {
	if !h.Connected() {
		return nil
	}
	res := m.runner.Run(ctx, m.clp.ConnectReset())
	if res.Failed() {
		return fmt.Errorf("connect reset: %s", res.Describe())
	}
	h.connected = false
	return nil
}

// Disconnect terminates the session and removes temporary catalog entries,
// alias first, then node. It is best-effort and safe to call more than once;
// failures are logged and returned for reporting, never fatal.
func (m *ConnectionManager) Disconnect(ctx context.Context, h *Handle) error {
	if h == nil || h.closed {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var result *multierror.Error
	if res := m.runner.Run(ctx, m.clp.Terminate()); res.Failed() {
		result = multierror.Append(result, fmt.Errorf("terminate: %s", res.Describe()))
	}
	h.connected = false

	if err := m.uncatalog(ctx, h); err != nil {
		result = multierror.Append(result, err)
	}
	h.closed = true

	if err := result.ErrorOrNil(); err != nil {
		m.logger.Warn().Err(err).Str("db", h.Database).Msg("disconnect incomplete")
		return err
	}
	m.logger.Info().Str("db", h.Database).Msg("disconnected")
	return nil
}
