package policy

// DefaultBrowsers returns the browser identifiers scanned for circumvention.
// Android packages and X11 window classes (lower-cased) are both listed.
func DefaultBrowsers() []string {
	return []string{
		// Android
		"com.android.chrome",
		"org.mozilla.firefox",
		"org.mozilla.firefox_beta",
		"com.sec.android.app.sbrowser",
		"com.opera.browser",
		"com.brave.browser",
		"com.microsoft.emmx",
		"com.duckduckgo.mobile.android",

		// Desktop
		"google-chrome",
		"chromium",
		"chromium-browser",
		"firefox",
		"brave-browser",
		"microsoft-edge",
	}
}
