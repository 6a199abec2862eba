package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
)

// Row is one remembered fact in the memories table.
type Row struct {
	ID        int64     `json:"id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// SupabaseStore keeps long-term memories as rows in a Supabase table.
// Retrieval is a naive keyword-overlap filter over recent rows; similarity
// search is the provider's business, not this client's.
type SupabaseStore struct {
	client *supabase.Client
	table  string
	limit  int
}

func NewSupabaseStore(url, key, table string) (*SupabaseStore, error) {
	if table == "" {
		table = "memories"
	}
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return &SupabaseStore{client: client, table: table, limit: 8}, nil
}

// Store inserts one memory row.
func (s *SupabaseStore) Store(ctx context.Context, text, role string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row := Row{Role: role, Content: text}
	if _, _, err := s.client.From(s.table).Insert(row, false, "", "", "").Execute(); err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// RetrieveContext returns recent memories whose content overlaps the query's
// keywords, newest first, formatted as a bullet list. An empty string means
// nothing relevant was found.
func (s *SupabaseStore) RetrieveContext(ctx context.Context, query string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	builder := s.client.From(s.table).
		Select("content", "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(s.limit, "")

	if filter := keywordFilter(query); filter != "" {
		builder = builder.Or(filter, "")
	}

	var rows []Row
	if _, err := builder.ExecuteTo(&rows); err != nil {
		return "", fmt.Errorf("query memories: %w", err)
	}
	return formatContext(rows), nil
}

// filterMeta removes the characters PostgREST treats as filter syntax.
// Commas separate or-branches and parens group them; a word carrying one
// would corrupt the whole filter string.
var filterMeta = strings.NewReplacer(",", "", "(", "", ")", "", ".", "")

// keywordFilter builds a PostgREST or-filter matching any significant word
// of the query. Wildcards use the PostgREST `*` syntax.
func keywordFilter(query string) string {
	var parts []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = filterMeta.Replace(strings.Trim(w, ".,!?'\""))
		if len(w) <= 3 {
			continue
		}
		parts = append(parts, "content.ilike.*"+w+"*")
		if len(parts) == 5 {
			break
		}
	}
	return strings.Join(parts, ",")
}

func formatContext(rows []Row) string {
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range rows {
		content := strings.TrimSpace(r.Content)
		if content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(content)
	}
	return b.String()
}
