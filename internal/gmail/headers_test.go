package gmail

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mailsweep/mailsweep/pkg/model"
)

func TestExtractUnsubscribe(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		Name     string
		Headers  []Header
		WantLink string
		WantMode string
	}{
		{
			Name: "one-click",
			Headers: []Header{
				{Name: "List-Unsubscribe", Value: "<https://news.example.com/unsub?u=1>"},
				{Name: "List-Unsubscribe-Post", Value: "List-Unsubscribe=One-Click"},
			},
			WantLink: "https://news.example.com/unsub?u=1",
			WantMode: model.ModeOneClick,
		},
		{
			Name: "manual http link",
			Headers: []Header{
				{Name: "List-Unsubscribe", Value: "<https://news.example.com/unsub?u=1>"},
			},
			WantLink: "https://news.example.com/unsub?u=1",
			WantMode: model.ModeManual,
		},
		{
			Name: "http preferred over mailto",
			Headers: []Header{
				{Name: "List-Unsubscribe", Value: "<mailto:unsub@example.com>, <http://example.com/u>"},
			},
			WantLink: "http://example.com/u",
			WantMode: model.ModeManual,
		},
		{
			Name: "mailto only",
			Headers: []Header{
				{Name: "list-unsubscribe", Value: "<mailto:unsub@example.com?subject=stop>"},
			},
			WantLink: "mailto:unsub@example.com?subject=stop",
			WantMode: model.ModeMailto,
		},
		{
			Name:    "absent",
			Headers: []Header{{Name: "From", Value: "a@b.com"}},
		},
		{
			Name: "garbage value",
			Headers: []Header{
				{Name: "List-Unsubscribe", Value: "click here"},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			link, mode := ExtractUnsubscribe(tc.Headers)
			require.Equal(t, tc.WantLink, link)
			require.Equal(t, tc.WantMode, mode)
		})
	}
}

func TestSenderInfo(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		Name       string
		From       string
		WantFrom   string
		WantEmail  string
		WantDomain string
	}{
		{
			Name:       "named address",
			From:       `"Acme News" <news@acme.example>`,
			WantFrom:   "Acme News",
			WantEmail:  "news@acme.example",
			WantDomain: "acme.example",
		},
		{
			Name:       "bare address",
			From:       "digest@Weekly.Example",
			WantFrom:   "digest@Weekly.Example",
			WantEmail:  "digest@Weekly.Example",
			WantDomain: "weekly.example",
		},
		{
			Name:       "empty display name",
			From:       "<promo@shop.example>",
			WantFrom:   "promo@shop.example",
			WantEmail:  "promo@shop.example",
			WantDomain: "shop.example",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			from, email, domain := SenderInfo([]Header{{Name: "From", Value: tc.From}})
			require.Equal(t, tc.WantFrom, from)
			require.Equal(t, tc.WantEmail, email)
			require.Equal(t, tc.WantDomain, domain)
		})
	}
}

func TestSenderInfoMissing(t *testing.T) {
	from, email, domain := SenderInfo(nil)
	require.Equal(t, "Unknown", from)
	require.Empty(t, email)
	require.Equal(t, "unknown", domain)
}

func TestSubject(t *testing.T) {
	require.Equal(t, "Weekly digest", Subject([]Header{{Name: "Subject", Value: "Weekly digest"}}))
	require.Equal(t, "(No Subject)", Subject(nil))
}
