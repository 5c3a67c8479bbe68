// Package models contains database model definitions for the directory
// synchronization engine: data source configurations, canonical per-source
// records, tenant-scoped projections and sync task bookkeeping.
package models
