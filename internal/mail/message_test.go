package mail

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryBody = "Дата платежей: 2026-01-15\r\nИдентификатор платежа;Сумма платежа\r\na1;10,00\r\n"

func rawMessage(id string) string {
	var b strings.Builder
	b.WriteString("From: Bank <noreply@bank.example>\r\n")
	b.WriteString("To: owner@example.com\r\n")
	b.WriteString("Subject: =?UTF-8?B?0KDQtdC10YHRgtGA?=\r\n")
	b.WriteString("Date: Thu, 15 Jan 2026 09:00:00 +0300\r\n")
	if id != "" {
		b.WriteString("Message-ID: <" + id + ">\r\n")
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=\"b1\"\r\n\r\n")
	b.WriteString("--b1\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nРеестр во вложении\r\n")
	b.WriteString("--b1\r\nContent-Type: text/csv; charset=utf-8\r\n")
	b.WriteString("Content-Disposition: attachment; filename=\"=?UTF-8?B?0YDQtdC10YHRgtGALmNzdg==?=\"\r\n\r\n")
	b.WriteString(registryBody + "\r\n")
	b.WriteString("--b1\r\nContent-Type: application/pdf\r\n")
	b.WriteString("Content-Disposition: attachment; filename=\"act.pdf\"\r\n\r\n%PDF-1.4\r\n")
	b.WriteString("--b1--\r\n")
	return b.String()
}

func TestParseMessage(t *testing.T) {
	d, err := ParseMessage(strings.NewReader(rawMessage("m1@bank.example")), "fallback", nil)
	require.NoError(t, err)

	assert.Equal(t, "m1@bank.example", d.ID)
	assert.Equal(t, "Реестр", d.Subject)
	assert.Equal(t, "noreply@bank.example", d.From)
	assert.Equal(t, 2026, d.Date.Year())
	require.Len(t, d.Attachments, 1)
	assert.Equal(t, "реестр.csv", d.Attachments[0].Filename)
	assert.Equal(t, registryBody, string(d.Attachments[0].Content))
}

func TestParseMessageFallbackID(t *testing.T) {
	d, err := ParseMessage(strings.NewReader(rawMessage("")), "uid:42", []string{"pdf"})
	require.NoError(t, err)
	assert.Equal(t, "uid:42", d.ID)
	require.Len(t, d.Attachments, 1)
	assert.Equal(t, "act.pdf", d.Attachments[0].Filename)
}

func TestAllowedFile(t *testing.T) {
	cases := []struct {
		name    string
		allowed []string
		want    bool
	}{
		{"registry.csv", nil, true},
		{"REGISTRY.CSV", nil, true},
		{"registry.txt", nil, false},
		{"registry.txt", []string{".csv", ".txt"}, true},
		{"registry.pdf", nil, false},
		{"registry", nil, false},
		{"registry.xlsx", []string{".xlsx"}, true},
		{"registry.csv", []string{"xlsx"}, false},
		{"registry.csv", []string{" CSV "}, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AllowedFile(tc.name, tc.allowed), tc.name)
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.eml"), []byte(rawMessage("m2@bank.example")), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.eml"), []byte(rawMessage("")), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.eml"), 0o755))

	src := NewDirSource(dir, nil)
	deliveries, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, "a.eml", deliveries[0].ID)
	assert.Equal(t, "m2@bank.example", deliveries[1].ID)
	assert.Len(t, deliveries[0].Attachments, 1)
}

func TestDirSourceMissingDir(t *testing.T) {
	src := NewDirSource(filepath.Join(t.TempDir(), "missing"), nil)
	_, err := src.Fetch(context.Background())
	assert.Error(t, err)
}
