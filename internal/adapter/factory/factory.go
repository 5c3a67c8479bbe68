// Package factory maps data source kinds to adapter constructors. The
// table is fixed at compile time and checked at startup, so an unknown kind
// is a configuration error rather than a runtime surprise.
package factory

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/TencentBlueKing/bk-user-sub004/internal/adapter"
	"github.com/TencentBlueKing/bk-user-sub004/internal/adapter/excel"
	"github.com/TencentBlueKing/bk-user-sub004/internal/adapter/httpapi"
	"github.com/TencentBlueKing/bk-user-sub004/internal/adapter/ldapdir"
	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
)

var (
	// ErrUnknownKind is returned for a kind with no registered constructor.
	ErrUnknownKind = errors.New("unknown data source kind")
	// ErrLocalSource is returned when building an adapter for a local-only
	// source, which has nothing to fetch from.
	ErrLocalSource = errors.New("local data sources have no adapter")
)

var validate = validator.New()

// Constructor builds an adapter from its raw JSON configuration.
type Constructor func(rawConfig []byte) (adapter.Adapter, error)

// constructors is the compile-time registration table.
var constructors = map[models.DataSourceKind]Constructor{
	models.DataSourceKindLDAP: func(rawConfig []byte) (adapter.Adapter, error) {
		var config ldapdir.Config
		if err := decodeConfig(rawConfig, &config); err != nil {
			return nil, err
		}

		return ldapdir.New(&config), nil
	},
	models.DataSourceKindHTTPAPI: func(rawConfig []byte) (adapter.Adapter, error) {
		var config httpapi.Config
		if err := decodeConfig(rawConfig, &config); err != nil {
			return nil, err
		}

		return httpapi.New(&config), nil
	},
	models.DataSourceKindExcel: func(rawConfig []byte) (adapter.Adapter, error) {
		var config excel.Config
		if err := decodeConfig(rawConfig, &config); err != nil {
			return nil, err
		}

		return excel.New(&config), nil
	},
}

// decodeConfig unmarshals and validates an adapter configuration; schema
// violations come back as format errors.
func decodeConfig(rawConfig []byte, config any) error {
	if err := json.Unmarshal(rawConfig, config); err != nil {
		return adapter.NewFormatErrorCause("decode adapter config", err)
	}

	if err := validate.Struct(config); err != nil {
		return adapter.NewFormatErrorCause("validate adapter config", err)
	}

	return nil
}

// New builds the adapter for a data source.
func New(source *models.DataSource) (adapter.Adapter, error) {
	if source.Kind == models.DataSourceKindLocal {
		return nil, ErrLocalSource
	}

	constructor, ok := constructors[source.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, source.Kind)
	}

	return constructor(source.PluginConfig)
}

// Validate asserts at startup that every syncable kind has a constructor.
func Validate() error {
	for _, kind := range []models.DataSourceKind{
		models.DataSourceKindLDAP,
		models.DataSourceKindHTTPAPI,
		models.DataSourceKindExcel,
	} {
		if _, ok := constructors[kind]; !ok {
			return fmt.Errorf("%w: %s has no registered constructor", ErrUnknownKind, kind)
		}
	}

	return nil
}
