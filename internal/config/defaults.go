package config

const (
	defaultBind                  = "127.0.0.1:8080"
	defaultDataDir               = "~/.local/share/rmcloud"
	defaultLogDir                = "~/.local/share/rmcloud/logs"
	defaultConverterTimeout      = 120
	defaultSessionMaxIdleSeconds = 24 * 60 * 60
	defaultAuthURL               = "https://webapp-production-dot-remarkable-production.appspot.com"
	defaultStorageURL            = "https://document-storage-production-dot-remarkable-production.appspot.com"
	defaultCloudTimeoutSeconds   = 60
	defaultDeviceDesc            = "desktop-linux"
	defaultDemoRegisterCode      = "abcdefgh"
	defaultDemoDelayMillis       = 2000
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			Bind: defaultBind,
		},
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Cache: Cache{
			Enabled: true,
			Dir:     defaultCacheDir(),
		},
		Converter: Converter{
			TimeoutSeconds: defaultConverterTimeout,
		},
		Sessions: Sessions{
			MaxIdleSeconds: defaultSessionMaxIdleSeconds,
		},
		Cloud: Cloud{
			AuthURL:               defaultAuthURL,
			StorageURL:            defaultStorageURL,
			RequestTimeoutSeconds: defaultCloudTimeoutSeconds,
			DeviceDesc:            defaultDeviceDesc,
		},
		Demo: Demo{
			RegisterCode: defaultDemoRegisterCode,
			DelayMillis:  defaultDemoDelayMillis,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
