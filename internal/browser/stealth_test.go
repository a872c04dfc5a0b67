package browser

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPickFingerprintDrawsFromPools(t *testing.T) {
	p := NewPacerWith(rand.New(rand.NewPCG(7, 7)), sleepContext)
	seenUA := map[string]bool{}
	for i := 0; i < 200; i++ {
		fp := pickFingerprint(p)
		require.Contains(t, userAgents, fp.UserAgent)
		require.Contains(t, viewports, viewport{fp.Width, fp.Height})
		seenUA[fp.UserAgent] = true
	}
	require.Len(t, seenUA, len(userAgents))
}

func TestLaunchFlags(t *testing.T) {
	flags := launchFlags(true, "en-US")
	require.Equal(t, "AutomationControlled", flags["disable-blink-features"])
	require.Equal(t, "IsolateOrigins,site-per-process", flags["disable-features"])
	require.Equal(t, "swiftshader", flags["use-angle"])
	require.Equal(t, "en-US", flags["lang"])
	require.Equal(t, "new", flags["headless"])
	require.Equal(t, true, flags["disable-dev-shm-usage"])

	require.Equal(t, false, launchFlags(false, "en-US")["headless"])
}

func TestAllocatorOptionsIncludesOverrides(t *testing.T) {
	fp := Fingerprint{UserAgent: userAgents[0], Width: 1366, Height: 768}
	base := allocatorOptions(Config{}.withDefaults(), fp)
	withPath := allocatorOptions(Config{ExecPath: "/usr/bin/chromium", NoSandbox: true}.withDefaults(), fp)
	require.Len(t, withPath, len(base)+2)
}

func TestStealthScriptPatches(t *testing.T) {
	for _, fragment := range []string{
		"'webdriver'",
		"chrome.runtime",
		"Chrome PDF Plugin",
		"Native Client",
		"namedItem",
		"['en-US', 'en']",
		"'notifications'",
		"'cdc_'",
		"'__selenium'",
		"'__webdriver'",
	} {
		require.Contains(t, stealthScript, fragment)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, "en-US", cfg.Locale)
	require.Equal(t, "Asia/Kuala_Lumpur", cfg.Timezone)
	require.Equal(t, defaultPollInterval, cfg.PollInterval)
}
