package store

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// dialect holds the per-driver SQL differences.
type dialect struct {
	driver    string
	schema    string
	upsertSQL map[string]string
	dollar    bool
}

var dialects = map[string]dialect{
	"sqlite": {
		driver: "sqlite",
		schema: "schema/sqlite.sql",
		upsertSQL: map[string]string{
			"tickets": `INSERT INTO tickets (ticket_id, title, body, priority, status, author, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(ticket_id) DO UPDATE SET
					title=excluded.title, body=excluded.body, priority=excluded.priority,
					status=excluded.status, author=excluded.author, created_at=excluded.created_at`,
			"followups": `INSERT INTO followups (followup_id, datetime_iso, contact, channel, scheduled, created_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(followup_id) DO UPDATE SET
					datetime_iso=excluded.datetime_iso, contact=excluded.contact, channel=excluded.channel,
					scheduled=excluded.scheduled, created_at=excluded.created_at`,
		},
	},
	"postgres": {
		driver: "postgres",
		schema: "schema/postgres.sql",
		dollar: true,
		upsertSQL: map[string]string{
			"tickets": `INSERT INTO tickets (ticket_id, title, body, priority, status, author, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (ticket_id) DO UPDATE SET
					title=EXCLUDED.title, body=EXCLUDED.body, priority=EXCLUDED.priority,
					status=EXCLUDED.status, author=EXCLUDED.author, created_at=EXCLUDED.created_at`,
			"followups": `INSERT INTO followups (followup_id, datetime_iso, contact, channel, scheduled, created_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (followup_id) DO UPDATE SET
					datetime_iso=EXCLUDED.datetime_iso, contact=EXCLUDED.contact, channel=EXCLUDED.channel,
					scheduled=EXCLUDED.scheduled, created_at=EXCLUDED.created_at`,
		},
	},
	"mysql": {
		driver: "mysql",
		schema: "schema/mysql.sql",
		upsertSQL: map[string]string{
			"tickets": `INSERT INTO tickets (ticket_id, title, body, priority, status, author, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON DUPLICATE KEY UPDATE
					title=VALUES(title), body=VALUES(body), priority=VALUES(priority),
					status=VALUES(status), author=VALUES(author), created_at=VALUES(created_at)`,
			"followups": `INSERT INTO followups (followup_id, datetime_iso, contact, channel, scheduled, created_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON DUPLICATE KEY UPDATE
					datetime_iso=VALUES(datetime_iso), contact=VALUES(contact), channel=VALUES(channel),
					scheduled=VALUES(scheduled), created_at=VALUES(created_at)`,
		},
	},
}

func lookupDialect(name string) (dialect, error) {
	if name == "" {
		name = "sqlite"
	}
	d, ok := dialects[name]
	if !ok {
		return dialect{}, fmt.Errorf("store: sql: unsupported driver %q", name)
	}
	return d, nil
}

// statements returns the dialect's schema split into executable statements.
func (d dialect) statements() ([]string, error) {
	data, err := schemaFS.ReadFile(d.schema)
	if err != nil {
		return nil, fmt.Errorf("store: sql: load schema: %w", err)
	}
	var stmts []string
	for _, s := range strings.Split(string(data), ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts, nil
}

// rebind rewrites ? placeholders to $n for drivers that need it.
func (d dialect) rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
