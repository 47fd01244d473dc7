package config

import "time"

type ServiceConfig struct {
	Name                string   `yaml:"name"`
	Port                string   `yaml:"port"`
	AppHost             string   `yaml:"app_host"`
	PoolMaxWorkers      int      `yaml:"pool_max_workers"`
	PoolQueue           int      `yaml:"pool_queue"`
	MaxConnsPerIP       int      `yaml:"max_conns_per_ip"`
	CloudLoggingEnabled bool     `yaml:"cloud_logging_enabled"`
	TrustedOrigins      []string `yaml:"trusted_origins"`
	Firestore           *firestore
	Storage             *storage
	Identity            *identity
	Vision              *vision
	RateLimit           *rateLimit   `yaml:"rate_limit"`
	Access              *access      `yaml:"access"`
	Bots                *bots        `yaml:"bots"`
	Limits              *limits      `yaml:"limits"`
	SigninPolicy        []PolicyRule `yaml:"signin_policy"`
}

type firestore struct {
	ProjectID                   string `yaml:"project_id"`
	DefaultLimit                int    `yaml:"default_limit"`
	MealsCollectionName         string `yaml:"meals_collection_name"`
	WhiteListCollectionName     string `yaml:"whitelist_collection_name"`
	WhiteListFallbackCollection string `yaml:"whitelist_fallback_collection_name"`
}

type storage struct {
	PhotoBucket string `yaml:"photo_bucket"`
}

type identity struct {
	APIKey                 string `yaml:"api_key"`
	ProviderID             string `yaml:"provider_id"`
	ContinueURL            string `yaml:"continue_url"`
	RedirectTimeoutSeconds int    `yaml:"redirect_timeout_seconds"`
	MagicLinksPerHour      int    `yaml:"magic_links_per_hour"`
}

type vision struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Prompt         string `yaml:"prompt"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CallsPerMinute int    `yaml:"calls_per_minute"`
}

type rateLimit struct {
	Store          string      `yaml:"store"`
	RedisAddr      string      `yaml:"redis_addr"`
	Requests       *windowRule `yaml:"requests"`
	Analysis       *windowRule `yaml:"analysis"`
	SweepThreshold int         `yaml:"sweep_threshold"`
}

type windowRule struct {
	Max           int `yaml:"max"`
	WindowMinutes int `yaml:"window_minutes"`
}

type access struct {
	AllowList    []string `yaml:"allow_list"`
	CacheDays    int      `yaml:"cache_days"`
	AuditLogSize int      `yaml:"audit_log_size"`
}

type bots struct {
	Blocklist       []string `yaml:"blocklist"`
	AllowedAgents   []string `yaml:"allowed_agents"`
	ProtectedRoutes []string `yaml:"protected_routes"`
}

type limits struct {
	MonthlyUploads int `yaml:"monthly_uploads"`
	MaxUploadMB    int `yaml:"max_upload_mb"`
}

// PolicyRule maps environment signals of an incoming sign-in to the
// method and persistence the orchestrator should use. Empty match
// fields act as wildcards, the first matching rule wins.
type PolicyRule struct {
	Match       PolicyMatch `yaml:"match"`
	Method      string      `yaml:"method"`
	Persistence string      `yaml:"persistence"`
}

type PolicyMatch struct {
	DisplayMode string `yaml:"display_mode"`
	Device      string `yaml:"device"`
	Browser     string `yaml:"browser"`
}

func (s *ServiceConfig) GetProjectID() string {
	f := s.Firestore
	if f == nil {
		return ""
	}
	return f.ProjectID
}

// GetDLV - gets the default limit value set in the firestore service configuration
func (s *ServiceConfig) GetDLV() int {
	f := s.Firestore
	if f == nil || f.DefaultLimit < 1 {
		return 50
	}
	return f.DefaultLimit
}

func (s *ServiceConfig) GetMealsCollectionName() string {
	f := s.Firestore
	if f == nil || f.MealsCollectionName == "" {
		return "meals"
	}
	return f.MealsCollectionName
}

func (s *ServiceConfig) GetWhiteListCollectionName() string {
	f := s.Firestore
	if f == nil || f.WhiteListCollectionName == "" {
		return "whitelist"
	}
	return f.WhiteListCollectionName
}

// GetWhiteListFallbackCollection returns the alternate whitelist
// collection name. An empty value disables the fallback lookups.
func (s *ServiceConfig) GetWhiteListFallbackCollection() string {
	f := s.Firestore
	if f == nil {
		return ""
	}
	return f.WhiteListFallbackCollection
}

func (s *ServiceConfig) GetTrustedOrigins() []string {
	return s.TrustedOrigins
}

func (s *ServiceConfig) GetPhotoBucket() string {
	if s.Storage == nil {
		return ""
	}
	return s.Storage.PhotoBucket
}

func (s *ServiceConfig) GetIdentityAPIKey() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.APIKey
}

func (s *ServiceConfig) GetIdentityProviderID() string {
	if s.Identity == nil || s.Identity.ProviderID == "" {
		return "google.com"
	}
	return s.Identity.ProviderID
}

func (s *ServiceConfig) GetContinueURL() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.ContinueURL
}

// GetRedirectTimeout bounds how long a pending redirect outcome is
// awaited before the sign-in flow is failed.
func (s *ServiceConfig) GetRedirectTimeout() time.Duration {
	if s.Identity == nil || s.Identity.RedirectTimeoutSeconds < 1 {
		return 2 * time.Minute
	}
	return time.Duration(s.Identity.RedirectTimeoutSeconds) * time.Second
}

func (s *ServiceConfig) GetMagicLinksPerHour() int {
	if s.Identity == nil || s.Identity.MagicLinksPerHour < 1 {
		return 30
	}
	return s.Identity.MagicLinksPerHour
}

func (s *ServiceConfig) GetVisionAPIKey() string {
	if s.Vision == nil {
		return ""
	}
	return s.Vision.APIKey
}

func (s *ServiceConfig) GetVisionModel() string {
	if s.Vision == nil || s.Vision.Model == "" {
		return "gemini-2.0-flash"
	}
	return s.Vision.Model
}

func (s *ServiceConfig) GetVisionPrompt() string {
	if s.Vision == nil {
		return ""
	}
	return s.Vision.Prompt
}

func (s *ServiceConfig) GetVisionTimeout() time.Duration {
	if s.Vision == nil || s.Vision.TimeoutSeconds < 1 {
		return 45 * time.Second
	}
	return time.Duration(s.Vision.TimeoutSeconds) * time.Second
}

func (s *ServiceConfig) GetVisionCallsPerMinute() int {
	if s.Vision == nil || s.Vision.CallsPerMinute < 1 {
		return 10
	}
	return s.Vision.CallsPerMinute
}

// GetRateLimitStore selects the backing store for the rate limiter
// counters. Supported values are "memory" and "redis".
func (s *ServiceConfig) GetRateLimitStore() string {
	if s.RateLimit == nil || s.RateLimit.Store == "" {
		return "memory"
	}
	return s.RateLimit.Store
}

func (s *ServiceConfig) GetRedisAddr() string {
	if s.RateLimit == nil {
		return ""
	}
	return s.RateLimit.RedisAddr
}

func (s *ServiceConfig) GetRequestRule() (int, time.Duration) {
	r := (*windowRule)(nil)
	if s.RateLimit != nil {
		r = s.RateLimit.Requests
	}
	if r == nil || r.Max < 1 || r.WindowMinutes < 1 {
		return 100, 10 * time.Minute
	}
	return r.Max, time.Duration(r.WindowMinutes) * time.Minute
}

func (s *ServiceConfig) GetAnalysisRule() (int, time.Duration) {
	r := (*windowRule)(nil)
	if s.RateLimit != nil {
		r = s.RateLimit.Analysis
	}
	if r == nil || r.Max < 1 || r.WindowMinutes < 1 {
		return 20, time.Hour
	}
	return r.Max, time.Duration(r.WindowMinutes) * time.Minute
}

func (s *ServiceConfig) GetSweepThreshold() int {
	if s.RateLimit == nil || s.RateLimit.SweepThreshold < 1 {
		return 1000
	}
	return s.RateLimit.SweepThreshold
}

func (s *ServiceConfig) GetAllowList() []string {
	if s.Access == nil {
		return nil
	}
	return s.Access.AllowList
}

// GetAccessCacheTTL returns how long a granted access decision stays
// valid before the whitelist is consulted again.
func (s *ServiceConfig) GetAccessCacheTTL() time.Duration {
	if s.Access == nil || s.Access.CacheDays < 1 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(s.Access.CacheDays) * 24 * time.Hour
}

func (s *ServiceConfig) GetAuditLogSize() int {
	if s.Access == nil || s.Access.AuditLogSize < 1 {
		return 200
	}
	return s.Access.AuditLogSize
}

func (s *ServiceConfig) GetBotBlocklist() []string {
	if s.Bots == nil || len(s.Bots.Blocklist) == 0 {
		return []string{"bot", "crawler", "spider", "scraper", "curl", "wget", "python-requests", "go-http-client"}
	}
	return s.Bots.Blocklist
}

func (s *ServiceConfig) GetAllowedAgents() []string {
	if s.Bots == nil || len(s.Bots.AllowedAgents) == 0 {
		return []string{"googlebot"}
	}
	return s.Bots.AllowedAgents
}

func (s *ServiceConfig) GetProtectedRoutes() []string {
	if s.Bots == nil || len(s.Bots.ProtectedRoutes) == 0 {
		return []string{"/v1/"}
	}
	return s.Bots.ProtectedRoutes
}

func (s *ServiceConfig) GetMonthlyUploadLimit() int {
	if s.Limits == nil || s.Limits.MonthlyUploads < 1 {
		return 100
	}
	return s.Limits.MonthlyUploads
}

func (s *ServiceConfig) GetMaxUploadBytes() int64 {
	if s.Limits == nil || s.Limits.MaxUploadMB < 1 {
		return 8 << 20
	}
	return int64(s.Limits.MaxUploadMB) << 20
}

func (s *ServiceConfig) GetSigninPolicy() []PolicyRule {
	return s.SigninPolicy
}
