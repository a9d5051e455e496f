package deadbolt

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearchCriteriaEncode(t *testing.T) {
	t.Parallel()

	t.Run("zero value has only paging and order", func(t *testing.T) {
		t.Parallel()

		require.Equal(t, "page=0&perPage=25&orderBy=email", SearchCriteria{}.Encode())
	})

	t.Run("unset fields are absent", func(t *testing.T) {
		t.Parallel()

		enc := SearchCriteria{Q: "ali"}.Encode()
		require.True(t, strings.HasPrefix(enc, "q=ali&"))
		for _, key := range []string{"email=", "uuids=", "membership="} {
			require.NotContains(t, enc, key)
		}
	})

	t.Run("fixed key order and repeated lists", func(t *testing.T) {
		t.Parallel()

		c := SearchCriteria{
			Q:          "a b",
			Email:      "x+y@example.com",
			UUIDs:      []string{"u1", "u2"},
			Membership: []Membership{{App: "a", Role: "b"}},
			Page:       2,
			PerPage:    10,
			OrderBy:    []OrderBy{OrderByLastNameDesc, OrderByCreatedAsc},
		}
		require.Equal(t,
			"q=a%20b&email=x%2By%40example.com&uuids=u1&uuids=u2&page=2&perPage=10"+
				"&orderBy=-last-name&orderBy=created&membership=%22a%22%3A%22b%22",
			c.Encode())
	})

	t.Run("membership characters are not html-escaped", func(t *testing.T) {
		t.Parallel()

		enc := SearchCriteria{Membership: []Membership{{App: "a&b", Role: "<r>"}}}.Encode()
		require.True(t, strings.HasSuffix(enc, "&membership=%22a%26b%22%3A%22%3Cr%3E%22"), enc)

		q, err := url.ParseQuery(enc)
		require.NoError(t, err)
		back, err := ParseSearchCriteria(q)
		require.NoError(t, err)
		require.Equal(t, []Membership{{App: "a&b", Role: "<r>"}}, back.Membership)
	})

	t.Run("negative page clamps to zero", func(t *testing.T) {
		t.Parallel()

		require.Contains(t, SearchCriteria{Page: -3, PerPage: -1}.Encode(), "page=0&perPage=25")
	})
}

func TestSearchCriteriaRoundTrip(t *testing.T) {
	t.Parallel()

	in := SearchCriteria{
		Q:          "smith",
		UUIDs:      SearchUUIDs("u1").UUIDs,
		Membership: []Membership{{App: "a", Role: "b"}, {App: "bar tab", Role: "staff:lead"}},
		Page:       1,
		PerPage:    5,
		OrderBy:    []OrderBy{OrderByUsernameDesc},
	}

	q, err := url.ParseQuery(in.Encode())
	require.NoError(t, err)

	out, err := ParseSearchCriteria(q)
	require.NoError(t, err)
	require.Equal(t, in, out)
	require.Equal(t, Membership{App: "a", Role: "b"}, out.Membership[0])
}

func TestParseMembershipParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    Membership
		wantErr bool
	}{
		{name: "raw", in: `"a":"b"`, want: Membership{App: "a", Role: "b"}},
		{name: "escaped", in: "%22a%22%3A%22b%22", want: Membership{App: "a", Role: "b"}},
		{name: "percent in names", in: `"100%":"b"`, want: Membership{App: "100%", Role: "b"}},
		{name: "not a pair", in: "a:b", wantErr: true},
		{name: "two pairs", in: `"a":"b","c":"d"`, wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseMembershipParam(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseSearchCriteriaRejects(t *testing.T) {
	t.Parallel()

	_, err := ParseSearchCriteria(url.Values{"page": {"two"}})
	require.Error(t, err)

	_, err = ParseSearchCriteria(url.Values{"orderBy": {"shoe-size"}})
	require.Error(t, err)

	_, err = ParseSearchCriteria(url.Values{"membership": {"nope"}})
	require.Error(t, err)
}

func TestOrderBy(t *testing.T) {
	t.Parallel()

	require.True(t, OrderByEmailDesc.Desc())
	require.False(t, OrderByEmailAsc.Desc())
	require.Equal(t, "last-activity", OrderByLastActivityDesc.Key())
	require.True(t, OrderByLastActivityDesc.Valid())
	require.False(t, OrderBy("-").Valid())
}

func TestClassifyIdentifier(t *testing.T) {
	t.Parallel()

	tests := map[string]IdentifierKind{
		"42":                                   IdentifierID,
		"0b5a5b8e-1c1d-4e0c-9d38-1f5b7c8d9e0f": IdentifierUUID,
		"alice@example.com":                    IdentifierEmail,
		"alice":                                IdentifierUsername,
		" 7 ":                                  IdentifierID,
	}
	for in, want := range tests {
		require.Equal(t, want, ClassifyIdentifier(in), in)
	}
	require.Equal(t, "uuid", IdentifierUUID.String())
	require.Equal(t, "username", IdentifierUsername.String())
}
