package ldapdir

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog/log"

	"github.com/TencentBlueKing/bk-user-sub004/internal/adapter"
)

// Directory is the LDAP source adapter. Every fetch opens its own
// connection and closes it when done; the server is never written to.
type Directory struct {
	config *Config
}

// New creates a Directory adapter from a validated configuration.
func New(config *Config) *Directory {
	config.SetDefaults()

	return &Directory{config: config}
}

// connect establishes and binds a connection to the LDAP server.
func (d *Directory) connect() (*ldap.Conn, error) {
	hostPort := net.JoinHostPort(d.config.Host, strconv.Itoa(d.config.Port))

	var ldapURL string
	if d.config.UseSSL {
		ldapURL = "ldaps://" + hostPort
	} else {
		ldapURL = "ldap://" + hostPort
	}

	var tlsConfig *tls.Config
	if d.config.UseSSL || d.config.UseTLS {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: d.config.SkipVerify, //nolint:gosec // skipping verifying tls is ok
			ServerName:         d.config.Host,
		}
	}

	conn, err := ldap.DialURL(ldapURL, ldap.DialWithTLSConfig(tlsConfig))
	if err != nil {
		return nil, adapter.NewConnectivityError("dial", err)
	}

	if !d.config.UseSSL && d.config.UseTLS {
		if errStartTLS := conn.StartTLS(tlsConfig); errStartTLS != nil {
			closeConn(conn)

			return nil, adapter.NewConnectivityError("start tls", errStartTLS)
		}
	}

	if d.config.Timeout > 0 {
		conn.SetTimeout(time.Duration(d.config.Timeout) * time.Second)
	}

	if d.config.BindDN != "" {
		if errBind := conn.Bind(d.config.BindDN, d.config.BindPassword); errBind != nil {
			closeConn(conn)

			if ldap.IsErrorWithCode(errBind, ldap.LDAPResultInvalidCredentials) {
				return nil, adapter.NewAuthError("bind", errBind)
			}

			return nil, adapter.NewConnectivityError("bind", errBind)
		}
	}

	return conn, nil
}

func closeConn(conn *ldap.Conn) {
	if err := conn.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close LDAP connection")
	}
}

// search runs a paged subtree search below the base DN.
func (d *Directory) search(conn *ldap.Conn, filter string, attrs []string) ([]*ldap.Entry, error) {
	request := ldap.NewSearchRequest(
		d.config.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		d.config.Timeout,
		false,
		filter,
		attrs,
		nil,
	)

	result, err := conn.SearchWithPaging(request, uint32(d.config.PageSize))
	if err != nil {
		return nil, adapter.NewConnectivityError("search", err)
	}

	return result.Entries, nil
}

// FetchUsers returns the complete user snapshot. The department membership
// of a user is its parent entry in the directory hierarchy; leader DNs are
// resolved to user codes within the same snapshot.
func (d *Directory) FetchUsers(ctx context.Context) ([]adapter.RawUser, error) {
	conn, err := d.connect()
	if err != nil {
		return nil, err
	}
	defer closeConn(conn)

	attrs := []string{
		d.config.CodeAttr,
		d.config.UsernameAttr,
		d.config.FullNameAttr,
		d.config.EmailAttr,
		d.config.PhoneAttr,
		d.config.LeaderAttr,
		"dn",
	}
	attrs = append(attrs, d.config.ExtraAttrs...)

	entries, err := d.search(conn, d.config.UserFilter, attrs)
	if err != nil {
		return nil, err
	}

	return d.buildUsers(entries)
}

// buildUsers converts fetched entries into raw users, rejecting entries
// without a code attribute and code values shared by multiple entries.
func (d *Directory) buildUsers(entries []*ldap.Entry) ([]adapter.RawUser, error) {
	codeByDN := make(map[string]string, len(entries))
	seen := make(map[string]bool, len(entries))

	users := make([]adapter.RawUser, 0, len(entries))

	for _, entry := range entries {
		code := entry.GetAttributeValue(d.config.CodeAttr)
		if code == "" {
			return nil, adapter.NewFormatError(
				"fetch users",
				"entry "+entry.DN+" is missing the code attribute "+d.config.CodeAttr,
			)
		}

		if seen[code] {
			return nil, adapter.NewFormatError(
				"fetch users",
				"duplicate code "+code+" at "+entry.DN,
			)
		}

		seen[code] = true
		codeByDN[normalizeDN(entry.DN)] = code

		properties := map[string]string{
			"username":  entry.GetAttributeValue(d.config.UsernameAttr),
			"full_name": entry.GetAttributeValue(d.config.FullNameAttr),
			"email":     entry.GetAttributeValue(d.config.EmailAttr),
			"phone":     entry.GetAttributeValue(d.config.PhoneAttr),
		}
		for _, attr := range d.config.ExtraAttrs {
			properties[attr] = entry.GetAttributeValue(attr)
		}

		user := adapter.RawUser{
			Code:       code,
			Properties: properties,
		}

		if parent := d.parentDN(entry.DN); parent != "" {
			user.Departments = []string{parent}
		}

		users = append(users, user)
	}

	// Leader DNs only resolve against users present in this snapshot;
	// dangling references are dropped with a warning.
	for i := range users {
		entry := entries[i]
		for _, leaderDN := range entry.GetAttributeValues(d.config.LeaderAttr) {
			leaderCode, ok := codeByDN[normalizeDN(leaderDN)]
			if !ok {
				log.Warn().
					Str("user", entry.DN).
					Str("leader", leaderDN).
					Msg("leader DN not found in fetched snapshot, skipping")

				continue
			}

			users[i].Leaders = append(users[i].Leaders, leaderCode)
		}
	}

	return users, nil
}

// FetchDepartments returns the complete organizational unit snapshot.
// Department codes are normalized DNs, so parent links are derived from the
// DN hierarchy.
func (d *Directory) FetchDepartments(ctx context.Context) ([]adapter.RawDepartment, error) {
	conn, err := d.connect()
	if err != nil {
		return nil, err
	}
	defer closeConn(conn)

	entries, err := d.search(conn, d.config.DeptFilter, []string{d.config.DeptNameAttr, "dn"})
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(entries))
	for _, entry := range entries {
		known[normalizeDN(entry.DN)] = true
	}

	departments := make([]adapter.RawDepartment, 0, len(entries))

	for i, entry := range entries {
		code := normalizeDN(entry.DN)

		name := entry.GetAttributeValue(d.config.DeptNameAttr)
		if name == "" {
			name = firstRDNValue(entry.DN)
		}

		dept := adapter.RawDepartment{
			Code:  code,
			Name:  name,
			Order: i + 1,
		}

		// Only link to parents that are themselves fetched units; the
		// topmost unit becomes the tree root.
		if parent := d.parentDN(entry.DN); parent != "" && known[parent] {
			dept.ParentCode = parent
		}

		departments = append(departments, dept)
	}

	return departments, nil
}

// TestConnection connects and binds with the configured service account.
func (d *Directory) TestConnection(ctx context.Context) (*adapter.TestResult, error) {
	start := time.Now()

	conn, err := d.connect()
	if err != nil {
		return nil, err
	}
	defer closeConn(conn)

	return &adapter.TestResult{
		Latency: time.Since(start),
		Message: "connected and bound to " + d.config.Host,
	}, nil
}

// parentDN returns the normalized parent DN of dn when the parent still
// lies below the base DN, empty otherwise.
func (d *Directory) parentDN(dn string) string {
	normalized := normalizeDN(dn)
	base := normalizeDN(d.config.BaseDN)

	idx := strings.Index(normalized, ",")
	if idx < 0 {
		return ""
	}

	parent := normalized[idx+1:]
	if parent == base || !strings.HasSuffix(parent, base) {
		return ""
	}

	return parent
}

func normalizeDN(dn string) string {
	parts := strings.Split(dn, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(strings.ToLower(part))
	}

	return strings.Join(parts, ",")
}

func firstRDNValue(dn string) string {
	first := dn
	if idx := strings.Index(dn, ","); idx >= 0 {
		first = dn[:idx]
	}

	if idx := strings.Index(first, "="); idx >= 0 {
		return strings.TrimSpace(first[idx+1:])
	}

	return strings.TrimSpace(first)
}
