// Package identifier derives stable, tenant-scoped user identifiers.
// Deterministic rules compute the identifier from the username; the uuid
// rule mints a random identifier once and persists it, so the externally
// visible identity survives upstream deletes, renames and external-code
// churn. Persisted records are never overwritten or deleted.
package identifier

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
)

// Rule selects how a tenant derives user identifiers.
type Rule string

const (
	// RuleUsername uses the raw username.
	RuleUsername Rule = "username"
	// RuleUsernameAtDomain salts the username with the tenant's domain.
	RuleUsernameAtDomain Rule = "username_at_domain"
	// RuleUUID mints a persisted random identifier per external code.
	RuleUUID Rule = "uuid"
)

var (
	// ErrUnknownRule is returned for an unrecognized rule name.
	ErrUnknownRule = errors.New("unknown identifier rule")
	// ErrEmptyUsername is returned when a deterministic rule meets a user
	// without a username.
	ErrEmptyUsername = errors.New("cannot derive identifier from an empty username")
	// ErrDomainRequired is returned when the username_at_domain rule is
	// configured without a domain.
	ErrDomainRequired = errors.New("identifier rule username_at_domain requires a domain")
)

// ParseRule validates a rule name from tenant configuration.
func ParseRule(name string) (Rule, error) {
	switch Rule(name) {
	case RuleUsername, RuleUsernameAtDomain, RuleUUID:
		return Rule(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRule, name)
	}
}

// Generator derives identifiers for one (tenant, source) pair. The caller
// is expected to hold the tenant-source sync lock; the minted map only
// deduplicates in-flight batch work within that single run.
type Generator struct {
	db       *gorm.DB
	tenantID string
	sourceID uint64
	rule     Rule
	domain   string
	minted   map[string]string
}

// New creates a Generator for the given tenant, source and rule.
func New(db *gorm.DB, tenantID string, sourceID uint64, rule Rule, domain string) (*Generator, error) {
	if rule == RuleUsernameAtDomain && domain == "" {
		return nil, ErrDomainRequired
	}

	return &Generator{
		db:       db,
		tenantID: tenantID,
		sourceID: sourceID,
		rule:     rule,
		domain:   domain,
		minted:   make(map[string]string),
	}, nil
}

// TenantUserID returns the stable identifier for the external code. For the
// uuid rule the persisted mapping is consulted first and a new identifier
// is minted and persisted only when no record exists.
func (g *Generator) TenantUserID(code, username string) (string, error) {
	switch g.rule {
	case RuleUsername:
		if username == "" {
			return "", ErrEmptyUsername
		}

		return username, nil
	case RuleUsernameAtDomain:
		if username == "" {
			return "", ErrEmptyUsername
		}

		return username + "@" + g.domain, nil
	case RuleUUID:
		return g.persistedID(code)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRule, g.rule)
	}
}

func (g *Generator) persistedID(code string) (string, error) {
	if id, ok := g.minted[code]; ok {
		return id, nil
	}

	var record models.TenantUserIDRecord

	err := g.db.
		Where("tenant_id = ? AND source_id = ? AND code = ?", g.tenantID, g.sourceID, code).
		First(&record).Error

	switch {
	case err == nil:
		g.minted[code] = record.TenantUserID

		return record.TenantUserID, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		// Mint and persist before first use.
		record = models.TenantUserIDRecord{
			TenantID:     g.tenantID,
			SourceID:     g.sourceID,
			Code:         code,
			TenantUserID: uuid.NewString(),
		}
		if errCreate := g.db.Create(&record).Error; errCreate != nil {
			return "", fmt.Errorf("failed to persist identifier record: %w", errCreate)
		}

		g.minted[code] = record.TenantUserID

		return record.TenantUserID, nil
	default:
		return "", fmt.Errorf("failed to look up identifier record: %w", err)
	}
}
