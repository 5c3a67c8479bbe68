// Package main provides the entry point for the identity sync engine. It
// pulls users and departments from external directories (LDAP, HTTP APIs,
// spreadsheets), reconciles them into a canonical per-source store and
// projects them into tenant-scoped identities on a schedule. The application
// uses gorm for data persistence and records every run as an auditable sync
// task.
package main
