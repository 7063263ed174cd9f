package db2

import (
	"context"
	"fmt"
	"os/user"
	"strconv"
	"strings"

	"db2backup/internal/runner"

	"github.com/rs/zerolog"
)

// Verdict is the outcome of rights verification.
type Verdict string

const (
	// VerdictVerified means at least one authority was confirmed.
	VerdictVerified Verdict = "verified"
	// VerdictDegraded means nothing could be confirmed or denied; the
	// backup itself will enforce its own authorization.
	VerdictDegraded Verdict = "degraded"
	// VerdictInsufficient means every check ran and none granted.
	VerdictInsufficient Verdict = "insufficient"
)

// Signal is the answer of one authority check.
type Signal string

const (
	SignalUnknown Signal = "unknown"
	SignalDenied  Signal = "denied"
	SignalGranted Signal = "granted"
)

// RequiredAuthorities lists the authorities that allow a backup.
const RequiredAuthorities = "SYSADM, SYSCTRL, SYSMAINT or DBADM"

const (
	queryCurrentUser = "values current user"
	querySessionUser = "select session_user from sysibm.sysdummy1"

	querySystemAuthority = "select count(*) from table(sysproc.auth_list_authorities_for_authid(%s, 'U')) as t" +
		" where t.authority in ('SYSADM', 'SYSCTRL', 'SYSMAINT')" +
		" and 'Y' in (t.d_user, t.d_group, t.d_public, t.role_user, t.role_group, t.role_public)"
	queryDatabaseAuthority = "select count(*) from table(sysproc.auth_list_authorities_for_authid(%s, 'U')) as t" +
		" where t.authority = 'DBADM'" +
		" and 'Y' in (t.d_user, t.d_group, t.d_public, t.role_user, t.role_group, t.role_public)"
	// Db2 has no per-database backup privilege: BACKUP DATABASE is granted
	// through membership in a group the instance names as SYSADM_GROUP,
	// SYSCTRL_GROUP or SYSMAINT_GROUP. This reads those names straight from
	// the instance configuration and matches them against the id's groups,
	// so it answers from the group plugin even where the authorities view
	// above is stale or not executable.
	queryGroupAuthority = "select count(*) from sysibmadm.dbmcfg c, table(sysproc.auth_list_groups_for_authid(%s)) as g" +
		" where c.name in ('sysadm_group', 'sysctrl_group', 'sysmaint_group')" +
		" and c.value <> '' and upper(c.value) = upper(g.groupname)"
)

// RightsReport explains a verdict.
type RightsReport struct {
	Verdict         Verdict
	AuthorizationID string
	// IdentityUncertain is set when the id could not be queried and the
	// connecting identity was assumed.
	IdentityUncertain bool
	SystemAuthority   Signal
	DatabaseAuthority Signal
	GroupAuthority    Signal
}

// RightsVerifier checks whether the session may back up the database.
type RightsVerifier struct {
	runner runner.Runner
	clp    CLP
	logger zerolog.Logger
	// FallbackIdentity is used when the session user cannot be queried and
	// the connection carried no explicit user.
	FallbackIdentity string
}

func NewRightsVerifier(r runner.Runner, clp CLP, logger zerolog.Logger) *RightsVerifier {
	return &RightsVerifier{runner: r, clp: clp, logger: logger}
}

// Verify resolves the authorization id and checks the three authority
// signals. Only the Insufficient verdict returns an error.
func (v *RightsVerifier) Verify(ctx context.Context, h *Handle, dbName string) (*RightsReport, error) {
	logger := v.logger.With().Str("db", dbName).Logger()

	report := &RightsReport{}
	report.AuthorizationID, report.IdentityUncertain = v.resolveIdentity(ctx, h)
	h.AuthorizationID = report.AuthorizationID

	id := sqlString(report.AuthorizationID)
	report.SystemAuthority = v.check(ctx, fmt.Sprintf(querySystemAuthority, id))
	report.DatabaseAuthority = v.check(ctx, fmt.Sprintf(queryDatabaseAuthority, id))
	report.GroupAuthority = v.check(ctx, fmt.Sprintf(queryGroupAuthority, id))
	report.Verdict = decide(report.SystemAuthority, report.DatabaseAuthority, report.GroupAuthority)

	event := logger.Info()
	if report.Verdict != VerdictVerified {
		event = logger.Warn()
	}
	event.
		Str("authid", report.AuthorizationID).
		Bool("authidUncertain", report.IdentityUncertain).
		Str("system", string(report.SystemAuthority)).
		Str("dbadm", string(report.DatabaseAuthority)).
		Str("group", string(report.GroupAuthority)).
		Str("verdict", string(report.Verdict)).
		Msg("rights verification finished")

	if report.Verdict == VerdictInsufficient {
		return report, fmt.Errorf("%w: %s holds none of %s on %s", ErrInsufficientRights, report.AuthorizationID, RequiredAuthorities, dbName)
	}
	return report, nil
}

func (v *RightsVerifier) resolveIdentity(ctx context.Context, h *Handle) (string, bool) {
	for _, q := range []string{queryCurrentUser, querySessionUser} {
		res := v.runner.Run(ctx, v.clp.Query(q))
		if res.Failed() {
			v.logger.Debug().Str("query", q).Str("output", res.Describe()).Msg("authorization id query failed")
			continue
		}
		if id := firstLine(res.Stdout); id != "" {
			return strings.ToUpper(id), false
		}
	}

	switch {
	case h.Credentials.User != "":
		return strings.ToUpper(h.Credentials.User), true
	case v.FallbackIdentity != "":
		return strings.ToUpper(v.FallbackIdentity), true
	}
	if u, err := user.Current(); err == nil {
		return strings.ToUpper(u.Username), true
	}
	return "", true
}

func (v *RightsVerifier) check(ctx context.Context, query string) Signal {
	res := v.runner.Run(ctx, v.clp.Query(query))
	if res.Failed() {
		v.logger.Debug().Str("query", query).Str("output", res.Describe()).Msg("authority query failed")
		return SignalUnknown
	}
	n, err := strconv.Atoi(firstLine(res.Stdout))
	if err != nil {
		return SignalUnknown
	}
	if n > 0 {
		return SignalGranted
	}
	return SignalDenied
}

// decide applies the policy: any grant verifies, a full set of denials is
// insufficient, anything else is degraded.
func decide(signals ...Signal) Verdict {
	denied := 0
	for _, s := range signals {
		switch s {
		case SignalGranted:
			return VerdictVerified
		case SignalDenied:
			denied++
		}
	}
	if denied == len(signals) {
		return VerdictInsufficient
	}
	return VerdictDegraded
}
