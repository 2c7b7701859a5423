package config

const (
	defaultBind              = "0.0.0.0:5000"
	defaultReadTimeout       = 15
	defaultWriteTimeout      = 330 // must cover a large-image ERP post
	defaultIdleTimeout       = 60
	defaultMaxBodyMB         = 50
	defaultRateLimitPerSec   = 20
	defaultRateLimitBurst    = 40
	defaultERPBaseURL        = "https://bc220.malla.es"
	defaultFixationEndpoint  = "/powerbi/ODataV4/GtaskMalla_PostFijacion"
	defaultIncidenceEndpoint = "/powerbi/ODataV4/GtaskMalla_PostIncidencia"
	defaultTasksEndpoint     = "/powerbi/ODataV4/GtaskMalla_devuelveidqr"
	defaultERPCompany        = "Malla Publicidad"
	defaultERPTimeout        = 120
	defaultLargeImageTimeout = 300
	defaultAuthBaseURL       = "https://gtasks-api.deploy.malla.es"
	defaultLoginEndpoint     = "/user/login"
	defaultUsersEndpoint     = "/Users"
	defaultAuthTimeout       = 30
	defaultTokenHours        = 24
	defaultRelaySaveURL      = "https://base64-api.deploy.malla.es/save"
	defaultRelayDeleteURL    = "https://base64-api.deploy.malla.es/delete"
	defaultRelayAttempts     = 3
	defaultRelayRetryDelay   = 5
	defaultRelayTimeout      = 30
	defaultCompressQuality   = 85
	defaultMaxImageSizeMB    = 10
	defaultSessionMaxAgeHr   = 24
	defaultSweepMinutes      = 60
	defaultTaskCacheTTLMin   = 10
	defaultUsersCacheTTLMin  = 60
	defaultJobsDBPath        = "incidencia-jobs.db"
	defaultJobRetentionDays  = 14
	defaultIncidenceType     = "EMT"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			Bind:            defaultBind,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			IdleTimeout:     defaultIdleTimeout,
			MaxBodyMB:       defaultMaxBodyMB,
			RateLimitPerSec: defaultRateLimitPerSec,
			RateLimitBurst:  defaultRateLimitBurst,
		},
		ERP: ERP{
			BaseURL:           defaultERPBaseURL,
			FixationEndpoint:  defaultFixationEndpoint,
			IncidenceEndpoint: defaultIncidenceEndpoint,
			TasksEndpoint:     defaultTasksEndpoint,
			Company:           defaultERPCompany,
			Timeout:           defaultERPTimeout,
			LargeImageTimeout: defaultLargeImageTimeout,
		},
		AuthService: AuthService{
			BaseURL:        defaultAuthBaseURL,
			LoginEndpoint:  defaultLoginEndpoint,
			UsersEndpoint:  defaultUsersEndpoint,
			Timeout:        defaultAuthTimeout,
			DefaultTokenHr: defaultTokenHours,
		},
		Relay: Relay{
			SaveURL:    defaultRelaySaveURL,
			DeleteURL:  defaultRelayDeleteURL,
			Attempts:   defaultRelayAttempts,
			RetryDelay: defaultRelayRetryDelay,
			Timeout:    defaultRelayTimeout,
		},
		Compression: Compression{
			Enabled:   true,
			Quality:   defaultCompressQuality,
			MaxSizeMB: defaultMaxImageSizeMB,
		},
		Sessions: Sessions{
			MaxAgeHours:    defaultSessionMaxAgeHr,
			SweepInterval:  defaultSweepMinutes,
			TaskCacheTTL:   defaultTaskCacheTTLMin,
			UsersCacheTTL:  defaultUsersCacheTTLMin,
			SnapshotDir:    "device_snapshots",
			SnapshotToDisk: true,
		},
		Jobs: Jobs{
			DBPath:        defaultJobsDBPath,
			RetentionDays: defaultJobRetentionDays,
		},
		Incidence: Incidence{
			Types:       []string{defaultIncidenceType},
			DefaultType: defaultIncidenceType,
		},
	}
}
