package database

import "fmt"

// DumpError indicates pg_dump exited non-zero. Stderr carries the
// client tool's diagnostic output verbatim.
type DumpError struct {
	Database string
	Stderr   string
	Cause    error
}

func (e *DumpError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("dump of database %q failed: %s", e.Database, e.Stderr)
	}
	return fmt.Sprintf("dump of database %q failed: %v", e.Database, e.Cause)
}

func (e *DumpError) Unwrap() error {
	return e.Cause
}

// RestoreError indicates a restore primitive (dropdb, createdb, psql)
// exited non-zero. Stderr carries the tool's diagnostic output verbatim.
type RestoreError struct {
	Database string
	Step     string
	Stderr   string
	Cause    error
}

func (e *RestoreError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("restore of database %q failed at %s: %s", e.Database, e.Step, e.Stderr)
	}
	return fmt.Sprintf("restore of database %q failed at %s: %v", e.Database, e.Step, e.Cause)
}

func (e *RestoreError) Unwrap() error {
	return e.Cause
}

// MissingToolError indicates a required PostgreSQL client tool is not
// installed on this host.
type MissingToolError struct {
	Tool string
}

func (e *MissingToolError) Error() string {
	return fmt.Sprintf("required PostgreSQL client tool not found in PATH: %s", e.Tool)
}
