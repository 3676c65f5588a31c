package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go-mrz-scanner/csca"
	"go-mrz-scanner/images"
	log "go-mrz-scanner/logging"
	"go-mrz-scanner/mrz"
	"go-mrz-scanner/ocr/engine"
	redis "go-mrz-scanner/redis"
	"go-mrz-scanner/scanner"

	"github.com/gmrtd/gmrtd/cms"
)

type Config struct {
	ServerConfig ServerConfig `json:"server_config"`
	LogLevel     string       `json:"log_level"`
	LogFormat    string       `json:"log_format,omitempty"`

	Recognizer engine.Config `json:"recognizer"`
	// CSCA certificates (PEM, DER, master list or PKD LDIF) for passive
	// authentication in cross checks. Empty uses the default master list.
	CscaCertPath string `json:"csca_cert_path,omitempty"`

	// Issuance is disabled without a private key.
	JwtPrivateKeyPath string `json:"jwt_private_key_path,omitempty"`
	IrmaServerUrl     string `json:"irma_server_url"`
	IssuerId          string `json:"issuer_id"`
	Credential        string `json:"credential"`
	SdJwtBatchSize    uint   `json:"sd_jwt_batch_size"`

	StorageType         string                    `json:"storage_type"`
	RedisConfig         redis.RedisConfig         `json:"redis_config,omitempty"`
	RedisSentinelConfig redis.RedisSentinelConfig `json:"redis_sentinel_config,omitempty"`
	BoltPath            string                    `json:"bolt_path,omitempty"`
}

func loadCertPool(certPath string) (cms.CertPool, error) {
	if certPath == "" {
		pool, err := cms.DefaultMasterList()
		if err != nil {
			return nil, fmt.Errorf("failed to load default master list: %w", err)
		}
		return pool, nil
	}
	pool, err := csca.LoadCertPool(certPath)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func main() {
	configPath := flag.String("config", "", "Path for the config.json to use")
	flag.Parse()

	if *configPath == "" {
		slog.Error("please provide a config path using the --config flag")
		os.Exit(1)
	}

	config, err := readConfigFile(*configPath)
	if err != nil {
		slog.Error("failed to read config file", "error", err)
		os.Exit(1)
	}
	log.InitLogger(config.LogLevel, config.LogFormat)
	slog.Info("using config", "path", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config Config) error {
	ocrEngine, err := engine.New(ctx, config.Recognizer)
	if err != nil {
		return fmt.Errorf("failed to instantiate recognizer: %w", err)
	}
	defer func() { _ = ocrEngine.Close() }()

	sessionStorage, err := createSessionStorage(&config)
	if err != nil {
		return fmt.Errorf("failed to instantiate session storage: %w", err)
	}

	certPool, err := loadCertPool(config.CscaCertPath)
	if err != nil {
		return fmt.Errorf("CscaCertPool error: %w", err)
	}

	parser := mrz.NewParser()
	opts := []scanner.Option{scanner.WithParser(parser), scanner.WithLogger(log.GetLogger())}
	if ocrEngine.Locator != nil {
		opts = append(opts, scanner.WithLocator(ocrEngine.Locator))
	}

	serverState := ServerState{
		irmaServerURL:  config.IrmaServerUrl,
		sessionStorage: sessionStorage,
		scanner:        scanner.New(ocrEngine.Recognizer, opts...),
		parser:         parser,
		chipVerifier:   ChipVerifierImpl{},
		certPool:       certPool,
		converter:      MrzDataConverterImpl{},
		previewOptions: images.DefaultPreviewOptions,
	}

	if config.JwtPrivateKeyPath != "" {
		jwtCreator, err := NewIrmaJwtCreator(
			config.JwtPrivateKeyPath,
			config.IssuerId,
			config.Credential,
			config.SdJwtBatchSize,
		)
		if err != nil {
			return fmt.Errorf("failed to instantiate jwt creator: %w", err)
		}
		serverState.jwtCreator = jwtCreator
	} else {
		slog.Info("No JWT private key configured, issuance disabled")
	}

	server, err := NewServer(&serverState, config.ServerConfig)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = server.Stop()
	}()

	slog.Info("hosting", "host", config.ServerConfig.Host, "port", config.ServerConfig.Port)
	err = server.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("failed to listen and serve: %w", err)
}

func readConfigFile(path string) (Config, error) {
	configBytes, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var config Config
	err = json.Unmarshal(configBytes, &config)
	if err != nil {
		return Config{}, err
	}

	return config, nil
}

func createSessionStorage(config *Config) (SessionStorage, error) {
	switch config.StorageType {
	case "redis":
		slog.Info("Using redis session storage")
		client, err := redis.NewRedisClient(&config.RedisConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisSessionStorage(client, config.RedisConfig.Namespace), nil
	case "redis_sentinel":
		slog.Info("Using redis sentinel session storage")
		client, err := redis.NewRedisSentinelClient(&config.RedisSentinelConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisSessionStorage(client, config.RedisSentinelConfig.Namespace), nil
	case "bolt":
		slog.Info("Using bolt session storage", "path", config.BoltPath)
		if config.BoltPath == "" {
			return nil, fmt.Errorf("bolt storage requires bolt_path")
		}
		return NewBoltSessionStorage(config.BoltPath)
	case "memory":
		slog.Info("Using in memory storage")
		return NewInMemorySessionStorage(), nil
	}
	return nil, fmt.Errorf("%v is not a valid storage type", config.StorageType)
}
