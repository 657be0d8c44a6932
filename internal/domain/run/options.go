package run

// Options is the flat option mapping produced by a front end (CLI flags,
// config file, API request) before validation.
type Options struct {
	URL          string `json:"url" mapstructure:"url"`
	URLFile      string `json:"urlFile" mapstructure:"urlFile"`
	PocFile      string `json:"pocFile" mapstructure:"pocFile"`
	Recursive    bool   `json:"recursive" mapstructure:"recursive"`
	Mode         string `json:"mode" mapstructure:"mode"`
	Cookie       string `json:"cookie" mapstructure:"cookie"`
	Referer      string `json:"referer" mapstructure:"referer"`
	Agent        string `json:"agent" mapstructure:"agent"`
	RandomAgent  bool   `json:"randomAgent" mapstructure:"randomAgent"`
	Proxy        string `json:"proxy" mapstructure:"proxy"`
	ProxyCred    string `json:"proxyCred" mapstructure:"proxyCred"`
	Timeout      int    `json:"timeout" mapstructure:"timeout"`
	Headers      string `json:"headers" mapstructure:"headers"`
	Threads      int    `json:"threads" mapstructure:"threads"`
	Rate         int    `json:"rate" mapstructure:"rate"`
	Report       string `json:"report" mapstructure:"report"`
	CancelPolicy string `json:"cancelPolicy" mapstructure:"cancelPolicy"`
}

// DefaultOptions mirrors the defaults of the command line.
func DefaultOptions() Options {
	return Options{
		Mode:    string(ModeVerify),
		Timeout: 30,
		Threads: 1,
	}
}
