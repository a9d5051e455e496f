package deadbolt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// DefaultPerPage is the page size used when none is set.
const DefaultPerPage = 25

// OrderBy is a sort key for user listings. A leading "-" sorts descending.
type OrderBy string

const (
	OrderByEmailAsc         OrderBy = "email"
	OrderByEmailDesc        OrderBy = "-email"
	OrderByFirstNameAsc     OrderBy = "first-name"
	OrderByFirstNameDesc    OrderBy = "-first-name"
	OrderByLastNameAsc      OrderBy = "last-name"
	OrderByLastNameDesc     OrderBy = "-last-name"
	OrderByCreatedAsc       OrderBy = "created"
	OrderByCreatedDesc      OrderBy = "-created"
	OrderByLastActivityAsc  OrderBy = "last-activity"
	OrderByLastActivityDesc OrderBy = "-last-activity"
	OrderByUsernameAsc      OrderBy = "username"
	OrderByUsernameDesc     OrderBy = "-username"
)

// Desc reports a descending sort.
func (o OrderBy) Desc() bool { return strings.HasPrefix(string(o), "-") }

// Key is the sort field without its direction.
func (o OrderBy) Key() string { return strings.TrimPrefix(string(o), "-") }

func (o OrderBy) Valid() bool {
	switch o.Key() {
	case "email", "first-name", "last-name", "created", "last-activity", "username":
		return true
	}
	return false
}

// SearchCriteria describes a user listing. The zero value lists the first
// page of every user, ordered by email.
type SearchCriteria struct {
	Q          string
	Email      string
	UUIDs      []string
	Membership []Membership

	// Page is zero-based.
	Page int

	// PerPage falls back to DefaultPerPage when not positive.
	PerPage int

	// OrderBy falls back to OrderByEmailAsc when empty.
	OrderBy []OrderBy
}

// SearchUUIDs lists exactly the given users.
func SearchUUIDs(uuids ...string) SearchCriteria {
	return SearchCriteria{UUIDs: uuids}
}

func (c SearchCriteria) page() int {
	return max(c.Page, 0)
}

func (c SearchCriteria) perPage() int {
	if c.PerPage <= 0 {
		return DefaultPerPage
	}
	return c.PerPage
}

func (c SearchCriteria) orderBy() []OrderBy {
	if len(c.OrderBy) == 0 {
		return []OrderBy{OrderByEmailAsc}
	}
	return c.OrderBy
}

// Encode renders the criteria as a query string. Keys appear in a fixed order
// (q, email, uuids, page, perPage, orderBy, membership); list fields repeat
// their key once per element; unset fields are left out entirely. Paging and
// ordering always appear, with their defaults applied.
//
// Each membership filter is sent as membership="app":"role", percent-encoded.
func (c SearchCriteria) Encode() string {
	var params []string
	add := func(key, value string) {
		if value == "" {
			return
		}
		params = append(params, key+"="+escape(value))
	}

	add("q", c.Q)
	add("email", c.Email)
	for _, id := range c.UUIDs {
		add("uuids", id)
	}
	add("page", strconv.Itoa(c.page()))
	add("perPage", strconv.Itoa(c.perPage()))
	for _, o := range c.orderBy() {
		add("orderBy", string(o))
	}
	for _, m := range c.Membership {
		add("membership", membershipParam(m))
	}

	return strings.Join(params, "&")
}

// escape percent-encodes a query component with spaces as %20.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// membershipParam renders `"app":"role"` as JSON strings without HTML
// escaping, so & < > reach the query unchanged before percent-encoding.
func membershipParam(m Membership) string {
	return jsonString(m.App) + ":" + jsonString(m.Role)
}

func jsonString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// ParseMembershipParam decodes one membership= value, escaped or not.
func ParseMembershipParam(value string) (Membership, error) {
	if m, ok := parseMembershipPair(value); ok {
		return m, nil
	}
	if unescaped, err := url.QueryUnescape(value); err == nil {
		if m, ok := parseMembershipPair(unescaped); ok {
			return m, nil
		}
	}
	return Membership{}, fmt.Errorf("deadbolt: membership filter %q is not \"app\":\"role\"", value)
}

func parseMembershipPair(value string) (Membership, bool) {
	var pair map[string]string
	if err := json.Unmarshal([]byte("{"+value+"}"), &pair); err != nil || len(pair) != 1 {
		return Membership{}, false
	}
	for app, role := range pair {
		return Membership{App: app, Role: role}, true
	}
	return Membership{}, false
}

// ParseSearchCriteria reads criteria back from decoded query values.
func ParseSearchCriteria(q url.Values) (SearchCriteria, error) {
	c := SearchCriteria{
		Q:     q.Get("q"),
		Email: q.Get("email"),
		UUIDs: q["uuids"],
	}

	for key, dst := range map[string]*int{"page": &c.Page, "perPage": &c.PerPage} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return SearchCriteria{}, fmt.Errorf("deadbolt: %s %q is not a number", key, raw)
		}
		*dst = n
	}

	for _, raw := range q["orderBy"] {
		o := OrderBy(raw)
		if !o.Valid() {
			return SearchCriteria{}, fmt.Errorf("deadbolt: unknown order %q", raw)
		}
		c.OrderBy = append(c.OrderBy, o)
	}

	for _, raw := range q["membership"] {
		m, err := ParseMembershipParam(raw)
		if err != nil {
			return SearchCriteria{}, err
		}
		c.Membership = append(c.Membership, m)
	}

	return c, nil
}

// IdentifierKind says how the service will resolve an identifier.
type IdentifierKind int

const (
	IdentifierUsername IdentifierKind = iota
	IdentifierID
	IdentifierUUID
	IdentifierEmail
)

func (k IdentifierKind) String() string {
	switch k {
	case IdentifierID:
		return "id"
	case IdentifierUUID:
		return "uuid"
	case IdentifierEmail:
		return "email"
	default:
		return "username"
	}
}

// ClassifyIdentifier reports whether s is a numeric id, a uuid, an email
// address or, failing those, a username.
func ClassifyIdentifier(s string) IdentifierKind {
	s = strings.TrimSpace(s)
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return IdentifierID
	}
	if _, err := uuid.Parse(s); err == nil {
		return IdentifierUUID
	}
	if strings.Contains(s, "@") {
		return IdentifierEmail
	}
	return IdentifierUsername
}
