package browser

import "time"

// Options configures a Session.
type Options struct {
	Kind     Kind
	Headless bool
	// Timeout bounds navigations and required waits.
	Timeout time.Duration
	// ShortTimeout bounds optimistic waits where a miss is expected.
	ShortTimeout time.Duration
	// PaceMin and PaceMax bound the default human-like pause.
	PaceMin, PaceMax time.Duration
	// CloseTimeout bounds teardown, independent of any context.
	CloseTimeout    time.Duration
	UserAgent       string
	Locale          string
	TimezoneID      string
	InstallBrowsers bool
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// DefaultOptions returns headless Chromium with a 30s timeout.
func DefaultOptions() Options {
	return OptionsFromSeconds(30, 6)
}

// OptionsFromSeconds builds options from the configured parsing timeout in
// seconds. The short timeout is the timeout divided by ratio.
func OptionsFromSeconds(timeoutSec, ratio int) Options {
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	if ratio < 1 {
		ratio = 6
	}
	timeout := time.Duration(timeoutSec) * time.Second
	return Options{
		Kind:         Chromium,
		Headless:     true,
		Timeout:      timeout,
		ShortTimeout: timeout / time.Duration(ratio),
		PaceMin:      800 * time.Millisecond,
		PaceMax:      2500 * time.Millisecond,
		CloseTimeout: 10 * time.Second,
		UserAgent:    defaultUserAgent,
		Locale:       "ru-RU",
		TimezoneID:   "Europe/Moscow",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Kind == "" {
		o.Kind = d.Kind
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.ShortTimeout <= 0 || o.ShortTimeout > o.Timeout {
		o.ShortTimeout = o.Timeout / 6
	}
	if o.PaceMax < o.PaceMin {
		o.PaceMax = o.PaceMin
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = d.CloseTimeout
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.Locale == "" {
		o.Locale = d.Locale
	}
	if o.TimezoneID == "" {
		o.TimezoneID = d.TimezoneID
	}
	return o
}

// ms converts d to the millisecond float playwright expects.
func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
