// Package ldapdir implements the directory-protocol source adapter. It
// pulls a complete snapshot of users and organizational units from an LDAP
// server; department codes are the lowercased entry DNs, so the tree
// structure falls out of the directory hierarchy itself.
package ldapdir

// Config holds the LDAP connection and attribute mapping settings for one
// data source. It is validated by the adapter factory before construction.
type Config struct {
	// Host is the LDAP server hostname or IP address.
	Host string `json:"host" validate:"required"`
	// Port is the LDAP server port (typically 389 for LDAP, 636 for LDAPS).
	Port int `json:"port" validate:"required,min=1,max=65535"`
	// UseSSL enables LDAPS.
	UseSSL bool `json:"use_ssl"`
	// UseTLS enables StartTLS to upgrade a plain connection.
	UseTLS bool `json:"use_tls"`
	// SkipVerify skips TLS certificate verification (for testing only).
	SkipVerify bool `json:"skip_verify"`
	// BindDN is the distinguished name to bind with for searches.
	BindDN string `json:"bind_dn"`
	// BindPassword is the password for the bind DN.
	BindPassword string `json:"bind_password"`
	// BaseDN is the base distinguished name for all searches.
	BaseDN string `json:"base_dn" validate:"required"`
	// UserFilter selects the user entries below BaseDN.
	UserFilter string `json:"user_filter"`
	// DeptFilter selects the organizational unit entries below BaseDN.
	DeptFilter string `json:"dept_filter"`
	// CodeAttr is the attribute carrying the stable external user code.
	CodeAttr string `json:"code_attr"`
	// UsernameAttr is the attribute carrying the login name.
	UsernameAttr string `json:"username_attr"`
	// FullNameAttr is the attribute carrying the display name.
	FullNameAttr string `json:"full_name_attr"`
	// EmailAttr is the attribute carrying the email address.
	EmailAttr string `json:"email_attr"`
	// PhoneAttr is the attribute carrying the phone number.
	PhoneAttr string `json:"phone_attr"`
	// LeaderAttr is the DN-valued attribute pointing at the user's leader.
	LeaderAttr string `json:"leader_attr"`
	// DeptNameAttr is the attribute carrying the department display name.
	DeptNameAttr string `json:"dept_name_attr"`
	// ExtraAttrs lists additional attributes copied verbatim into the raw
	// user properties.
	ExtraAttrs []string `json:"extra_attrs"`
	// PageSize bounds each paged search request.
	PageSize int `json:"page_size" validate:"min=0,max=5000"`
	// Timeout is the per-operation timeout in seconds.
	Timeout int `json:"timeout" validate:"min=0,max=600"`
}

// SetDefaults fills the conventional inetOrgPerson attribute names for
// unset fields.
func (c *Config) SetDefaults() {
	if c.UserFilter == "" {
		c.UserFilter = "(objectClass=inetOrgPerson)"
	}

	if c.DeptFilter == "" {
		c.DeptFilter = "(objectClass=organizationalUnit)"
	}

	if c.CodeAttr == "" {
		c.CodeAttr = "uid"
	}

	if c.UsernameAttr == "" {
		c.UsernameAttr = "uid"
	}

	if c.FullNameAttr == "" {
		c.FullNameAttr = "cn"
	}

	if c.EmailAttr == "" {
		c.EmailAttr = "mail"
	}

	if c.PhoneAttr == "" {
		c.PhoneAttr = "mobile"
	}

	if c.LeaderAttr == "" {
		c.LeaderAttr = "manager"
	}

	if c.DeptNameAttr == "" {
		c.DeptNameAttr = "ou"
	}

	if c.PageSize == 0 {
		c.PageSize = 500
	}

	if c.Timeout == 0 {
		c.Timeout = 30
	}
}
