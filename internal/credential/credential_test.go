package credential

import (
	"context"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/caldavsync/caldav-sync/internal/cryptutil"
	"github.com/caldavsync/caldav-sync/internal/store"
)

func newStoreForTest(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	migrations, err := store.Migrations()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if err := store.Migrate(db, store.DriverSQLite, migrations); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(db, store.DriverSQLite)
}

func TestSaveTokenThenLoadTokenRoundTrips(t *testing.T) {
	st := newStoreForTest(t)
	key, err := cryptutil.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p := NewProvider("client-id", "client-secret", st.OAuthCredentials, key, nil)

	expiry := time.Now().UTC().Add(time.Hour)
	token := &oauth2.Token{AccessToken: "access-1", RefreshToken: "refresh-1", TokenType: "Bearer", Expiry: expiry}

	if err := p.saveToken(context.Background(), token); err != nil {
		t.Fatalf("save token: %v", err)
	}

	loaded, err := p.loadToken(context.Background())
	if err != nil {
		t.Fatalf("load token: %v", err)
	}
	if loaded == nil {
		t.Fatalf("expected a token, got nil")
	}
	if loaded.AccessToken != "access-1" || loaded.RefreshToken != "refresh-1" {
		t.Fatalf("unexpected token: %+v", loaded)
	}
	if !loaded.Expiry.Equal(expiry) {
		t.Fatalf("expected expiry %v, got %v", expiry, loaded.Expiry)
	}
}

func TestSaveTokenOverwritesSingleRow(t *testing.T) {
	st := newStoreForTest(t)
	key, err := cryptutil.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p := NewProvider("client-id", "client-secret", st.OAuthCredentials, key, nil)

	first := &oauth2.Token{AccessToken: "access-1", RefreshToken: "refresh-1", TokenType: "Bearer"}
	second := &oauth2.Token{AccessToken: "access-2", RefreshToken: "refresh-2", TokenType: "Bearer"}

	if err := p.saveToken(context.Background(), first); err != nil {
		t.Fatalf("save first token: %v", err)
	}
	if err := p.saveToken(context.Background(), second); err != nil {
		t.Fatalf("save second token: %v", err)
	}

	loaded, err := p.loadToken(context.Background())
	if err != nil {
		t.Fatalf("load token: %v", err)
	}
	if loaded.AccessToken != "access-2" {
		t.Fatalf("expected overwritten token access-2, got %s", loaded.AccessToken)
	}

	row, err := st.OAuthCredentials.Get(context.Background())
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if row == nil {
		t.Fatalf("expected one row")
	}
}

func TestIsInvalidGrantDetectsExpiryErrors(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"oauth2: cannot fetch token: 400 Bad Request invalid_grant", true},
		{"token has been expired or revoked", true},
		{"connection reset by peer", false},
	}
	for _, c := range cases {
		if got := isInvalidGrant(&testError{c.msg}); got != c.want {
			t.Errorf("isInvalidGrant(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
