package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetsync/internal/core"
)

// fakeSheets serves the three Values endpoints the client uses, holding one
// sheet in memory.
type fakeSheets struct {
	mu      sync.Mutex
	values  [][]any
	cleared []string
	updated []string
	inputs  []string
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	rng := path[strings.LastIndex(path, "/values/")+len("/values/"):]
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(rng, ":clear"):
		f.cleared = append(f.cleared, strings.TrimSuffix(rng, ":clear"))
		f.values = nil
		json.NewEncoder(w).Encode(map[string]any{"clearedRange": strings.TrimSuffix(rng, ":clear")})
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		var vr struct {
			Values [][]any `json:"values"`
		}
		if err := json.Unmarshal(body, &vr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.values = vr.Values
		f.updated = append(f.updated, rng)
		f.inputs = append(f.inputs, r.URL.Query().Get("valueInputOption"))
		json.NewEncoder(w).Encode(map[string]any{
			"updatedRange": rng,
			"updatedRows":  len(vr.Values),
			"updatedCells": len(vr.Values) * 4,
		})
	case r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(map[string]any{"range": rng, "values": f.values})
	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusNotFound)
	}
}

func newFakeClient(t *testing.T) (*Client, *fakeSheets) {
	t.Helper()
	fake := &fakeSheets{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := NewWithEndpoint(context.Background(), srv.URL+"/", "sheet-id", "")
	require.NoError(t, err)
	return c, fake
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	assert.Equal(t, "missing spreadsheet id", err.Error())
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := New(context.Background(), Config{SpreadsheetID: "id"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing service account credentials")
}

func TestNew_UnreadableCredentialsFile(t *testing.T) {
	_, err := New(context.Background(), Config{SpreadsheetID: "id", CredentialsFile: t.TempDir() + "/nope.json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read service account file")
}

func TestToValues(t *testing.T) {
	rows := []core.ExportRow{{
		Date:        time.Date(2024, 7, 4, 23, 30, 0, 0, time.UTC),
		Description: "Fuel",
		Amount:      decimal.RequireFromString("40.5"),
		Category:    "Gas",
	}}

	values := toValues(rows)
	require.Len(t, values, 2)
	assert.Equal(t, []any{"Date", "Description", "Amount", "Category"}, values[0])
	assert.Equal(t, []any{"2024-07-04", "Fuel", "40.50", "Gas"}, values[1])
}

func TestExportRange(t *testing.T) {
	assert.Equal(t, "Transactions!A1:D1", exportRange("Transactions", 0))
	assert.Equal(t, "2024!A1:D11", exportRange("2024", 10))
}

func TestClient_ExportAndReadBack(t *testing.T) {
	ctx := context.Background()
	c, fake := newFakeClient(t)

	rows := []core.ExportRow{
		{Date: time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC), Description: "Fuel", Amount: decimal.RequireFromString("40.50"), Category: "Gas"},
		{Date: time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC), Description: "Bread", Amount: decimal.RequireFromString("-2"), Category: core.UncategorizedName},
	}

	ref, err := c.Export(ctx, "", rows)
	require.NoError(t, err)
	assert.Equal(t, "Transactions!A1:D3", ref)
	assert.Equal(t, []string{"Transactions!A:D"}, fake.cleared)
	assert.Equal(t, []string{"USER_ENTERED"}, fake.inputs)

	got, err := c.ReadRows(ctx, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range rows {
		assert.True(t, got[i].Date.Equal(rows[i].Date))
		assert.Equal(t, rows[i].Description, got[i].Description)
		assert.True(t, got[i].Amount.Equal(rows[i].Amount), "row %d amount %s", i, got[i].Amount)
		assert.Equal(t, rows[i].Category, got[i].Category)
	}
}

func TestClient_ExportEmptyWritesHeader(t *testing.T) {
	c, fake := newFakeClient(t)

	_, err := c.Export(context.Background(), "Archive", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Archive!A1:D1"}, fake.updated)
	assert.Len(t, fake.values, 1)
}

func TestClient_NilService(t *testing.T) {
	c := &Client{spreadsheetID: "test"}

	_, err := c.Export(context.Background(), "x", nil)
	assert.EqualError(t, err, "sheets service not initialized")
	_, err = c.ReadRows(context.Background(), "x")
	assert.EqualError(t, err, "sheets service not initialized")
}
