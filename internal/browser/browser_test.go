package browser

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvidencePath(t *testing.T) {
	at := time.Unix(1700000000, 0)

	assert.Equal(t, filepath.Join("prints", "auth_failed_alice_example.com_1700000000.png"),
		evidencePath("prints", "auth_failed_alice@example.com", at))
	assert.Equal(t, filepath.Join("prints", ".._etc_passwd_1700000000.png"),
		evidencePath("prints", "../etc/passwd", at))
	assert.Equal(t, filepath.Join("prints", "snapshot_1700000000.png"),
		evidencePath("prints", "", at))
}

func TestWriteEvidence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "prints")

	path, err := writeEvidence(dir, "block_detected_1", time.Unix(10, 0), []byte("png"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
	assert.Equal(t, dir, filepath.Dir(path))
}

func TestPickTab(t *testing.T) {
	targets := []*target.Info{
		{TargetID: "sw", Type: "service_worker", URL: "https://www.livelo.com.br/sw.js"},
		{TargetID: "blank", Type: "page", URL: "about:blank"},
		{TargetID: "home", Type: "page", URL: "https://www.livelo.com.br/"},
	}

	id, ok := pickTab(targets, "livelo.com.br")
	assert.True(t, ok)
	assert.Equal(t, target.ID("home"), id)

	_, ok = pickTab(targets, "")
	assert.False(t, ok)

	_, ok = pickTab(targets, "example.org")
	assert.False(t, ok)
}

func TestSelectorScripts(t *testing.T) {
	js := visibleJS(`a[href="x"]`)
	assert.Contains(t, js, `document.querySelector("a[href=\"x\"]")`)

	assert.Contains(t, textJS(".l-header__user-profile-balance"), `".l-header__user-profile-balance"`)
}
