package validator

// Limits applied when Options leaves them zero.
const (
	DefaultMaxStringLength    = 10000
	DefaultMaxPromptLength    = 4000
	DefaultMaxCommandIDLength = 128
	DefaultRateLimit          = 1.0

	maxNameLength = 256
)

// Options is the static configuration of a Validator.
type Options struct {
	// AllowedCommands is the closed whitelist. Empty means DefaultAllowedCommands.
	AllowedCommands []string
	// RateLimits maps command type to requests per second. Entries override
	// DefaultRateLimits; types absent from both use DefaultRateLimit.
	RateLimits       map[string]float64
	DefaultRateLimit float64

	MaxStringLength    int
	MaxPromptLength    int
	MaxCommandIDLength int
}

// DefaultAllowedCommands lists the command types the host accepts from the peer.
var DefaultAllowedCommands = []string{
	// core
	"Ping",
	"Log",
	"GetSceneInfo",
	"GetCapabilities",

	// objects
	"FindGameObject",
	"FindObject",
	"SetActive",
	"SetState",
	"SetPosition",
	"MoveGameObject",

	// components
	"GetComponent",
	"SetComponentValue",

	// generation
	"GenerateImage",
	"GenerateSound",
	"Generate3DModel",
	"GenerateShader",
	"GenerateScript",
	"GenerateAsset",
}

// DefaultRateLimits holds requests per second for the known command types.
var DefaultRateLimits = map[string]float64{
	"GenerateImage":   0.1, // sub-1/s limits still admit one per second
	"GenerateSound":   0.1,
	"Generate3DModel": 0.1,
	"GenerateAsset":   0.1,
	"GenerateShader":  0.2,
	"GenerateScript":  0.2,

	"SetComponentValue": 10,
	"SetPosition":       10,
	"MoveGameObject":    10,
	"SetActive":         10,
	"SetState":          10,

	"GetSceneInfo":   30,
	"FindGameObject": 30,
	"FindObject":     30,
	"GetComponent":   30,
	"Log":            60,
	"Ping":           60,
}

// DefaultOptions returns the stock configuration.
func DefaultOptions() Options {
	return Options{}.normalized()
}

func (o Options) normalized() Options {
	if len(o.AllowedCommands) == 0 {
		o.AllowedCommands = append([]string(nil), DefaultAllowedCommands...)
	}
	limits := make(map[string]float64, len(DefaultRateLimits)+len(o.RateLimits))
	for name, limit := range DefaultRateLimits {
		limits[name] = limit
	}
	for name, limit := range o.RateLimits {
		limits[name] = limit
	}
	o.RateLimits = limits
	if o.DefaultRateLimit <= 0 {
		o.DefaultRateLimit = DefaultRateLimit
	}
	if o.MaxStringLength <= 0 {
		o.MaxStringLength = DefaultMaxStringLength
	}
	if o.MaxPromptLength <= 0 {
		o.MaxPromptLength = DefaultMaxPromptLength
	}
	if o.MaxCommandIDLength <= 0 {
		o.MaxCommandIDLength = DefaultMaxCommandIDLength
	}
	return o
}
