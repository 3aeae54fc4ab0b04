package files

import "strings"

// TypeFilterOther is the sentinel requesting files whose extension is not in
// the known-extension allowlist.
const TypeFilterOther = "other"

// knownExtensions is the fixed allowlist backing the "other" type filter:
// documents, code, images, video, audio, and archives.
var knownExtensions = []string{
	".doc", ".docx", ".pdf", ".txt",
	".js", ".java", ".py", ".cpp", ".cs", ".html", ".css", ".php", ".sql",
	".jpg", ".jpeg", ".png", ".gif",
	".mp4", ".avi", ".mov",
	".mp3", ".wav", ".ogg",
	".zip", ".rar", ".7z",
}

// ListFilter carries the optional, conjunctive listing predicates. Zero
// values add no predicate.
type ListFilter struct {
	// OwnerID scopes the listing to one owner; nil means all owners and is
	// only honored for an elevated principal.
	OwnerID *uint64
	// TypeFilter is empty, the TypeFilterOther sentinel, or a comma-separated
	// extension set matched as membership.
	TypeFilter string
	// Keyword is matched as a case-insensitive substring of the display name.
	Keyword string
	// TagID restricts to files linked to one tag.
	TagID *uint64
}

// predicate is one parameterized WHERE fragment. Values always travel as
// arguments, never interpolated into the expression.
type predicate struct {
	expr string
	args []any
}

// buildPredicates translates a ListFilter into the conjunctive predicate
// set applied by List. The tombstone predicate is always present.
func buildPredicates(filter ListFilter) []predicate {
	predicates := []predicate{{expr: "files.is_deleted = ?", args: []any{false}}}

	if filter.OwnerID != nil {
		predicates = append(predicates, predicate{expr: "files.owner_id = ?", args: []any{*filter.OwnerID}})
	}

	if typeFilter := strings.TrimSpace(filter.TypeFilter); typeFilter != "" {
		if typeFilter == TypeFilterOther {
			predicates = append(predicates, predicate{
				expr: "(files.extension = '' OR files.extension NOT IN ?)",
				args: []any{knownExtensions},
			})
		} else if extensions := splitExtensions(typeFilter); len(extensions) > 0 {
			predicates = append(predicates, predicate{
				expr: "files.extension IN ?",
				args: []any{extensions},
			})
		}
	}

	if keyword := strings.TrimSpace(filter.Keyword); keyword != "" {
		predicates = append(predicates, predicate{
			expr: "LOWER(files.display_name) LIKE ? ESCAPE '\\'",
			args: []any{"%" + escapeLikePattern(strings.ToLower(keyword)) + "%"},
		})
	}

	if filter.TagID != nil {
		predicates = append(predicates, predicate{
			expr: "EXISTS (SELECT 1 FROM file_tags WHERE file_tags.file_id = files.id AND file_tags.tag_id = ?)",
			args: []any{*filter.TagID},
		})
	}

	return predicates
}

func splitExtensions(typeFilter string) []string {
	parts := strings.Split(typeFilter, ",")
	extensions := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		if trimmed == "" {
			continue
		}
		extensions = append(extensions, trimmed)
	}
	return extensions
}

// escapeLikePattern neutralizes LIKE metacharacters in user keywords so a
// literal % or _ matches itself.
func escapeLikePattern(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
