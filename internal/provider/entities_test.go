package provider

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEntitiesFile(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "tickers.txt")
	require.NoError(t, os.WriteFile(txt, []byte("# watchlist\naapl\n\n MSFT \nAAPL\n"), 0o644))
	got, err := LoadEntitiesFile(txt)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, got)

	js := filepath.Join(dir, "tickers.json")
	require.NoError(t, os.WriteFile(js, []byte(`["spy","qqq"]`), 0o644))
	got, err = LoadEntitiesFile(js)
	require.NoError(t, err)
	assert.Equal(t, []string{"SPY", "QQQ"}, got)

	_, err = LoadEntitiesFile(filepath.Join(dir, "tickers.xml"))
	assert.Error(t, err)
}
