package browser

import "github.com/chromedp/chromedp"

// Fingerprint is the per-session browser identity.
type Fingerprint struct {
	UserAgent string
	Width     int
	Height    int
}

type viewport struct {
	width, height int
}

var viewports = []viewport{
	{1920, 1080},
	{1536, 864},
	{1440, 900},
	{1366, 768},
	{1280, 720},
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
}

func pickFingerprint(p *Pacer) Fingerprint {
	vp := viewports[p.Intn(len(viewports))]
	return Fingerprint{
		UserAgent: userAgents[p.Intn(len(userAgents))],
		Width:     vp.width,
		Height:    vp.height,
	}
}

// launchFlags lists the Chrome switches layered on chromedp's defaults.
func launchFlags(headless bool, locale string) map[string]any {
	flags := map[string]any{
		"disable-blink-features":                 "AutomationControlled",
		"enable-automation":                      false,
		"disable-features":                       "IsolateOrigins,site-per-process",
		"disable-site-isolation-trials":          true,
		"disable-infobars":                       true,
		"no-first-run":                           true,
		"no-default-browser-check":               true,
		"use-gl":                                 "angle",
		"use-angle":                              "swiftshader",
		"disable-dev-shm-usage":                  true,
		"lang":                                   locale,
		"hide-scrollbars":                        true,
		"headless":                               false,
		"disable-background-networking":          true,
		"disable-renderer-backgrounding":         true,
		"disable-backgrounding-occluded-windows": true,
	}
	if headless {
		flags["headless"] = "new"
	}
	return flags
}

func allocatorOptions(cfg Config, fp Fingerprint) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range launchFlags(cfg.Headless, cfg.Locale) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	opts = append(opts,
		chromedp.UserAgent(fp.UserAgent),
		chromedp.WindowSize(fp.Width, fp.Height),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return opts
}

// stealthScript runs before any page script on every document.
const stealthScript = `(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });

  if (!window.chrome) window.chrome = {};
  if (!window.chrome.runtime) {
    window.chrome.runtime = { connect: function(){}, sendMessage: function(){} };
  }

  Object.defineProperty(navigator, 'plugins', {
    get: () => {
      var plugins = [
        { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
        { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '' },
        { name: 'Native Client', filename: 'internal-nacl-plugin', description: '' },
      ];
      var arr = Object.create(PluginArray.prototype);
      plugins.forEach(function(p, i) { arr[i] = p; });
      Object.defineProperty(arr, 'length', { get: function() { return plugins.length; } });
      arr.item = function(i) { return plugins[i] || null; };
      arr.namedItem = function(name) { return plugins.find(function(p) { return p.name === name; }) || null; };
      arr.refresh = function() {};
      return arr;
    },
  });

  Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });

  if (navigator.permissions && navigator.permissions.query) {
    var originalQuery = navigator.permissions.query.bind(navigator.permissions);
    navigator.permissions.query = function(desc) {
      if (desc && desc.name === 'notifications') {
        return Promise.resolve({ state: 'prompt', onchange: null });
      }
      return originalQuery(desc);
    };
  }

  Object.keys(window).forEach(function(key) {
    if (key.startsWith('cdc_') || key.startsWith('__selenium') || key.startsWith('__webdriver')) {
      delete window[key];
    }
  });
})()`
