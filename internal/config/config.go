package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DatabasePath     string        `envconfig:"DATABASE_PATH" default:"/app/data/songcache.db"`
	ListenAddr       string        `envconfig:"LISTEN_ADDR" default:":8080"`
	AdminSecret      string        `envconfig:"ADMIN_SECRET" default:""`
	YouTubeAPIKey    string        `envconfig:"YOUTUBE_API_KEY" default:""`
	TelegramBotToken string        `envconfig:"TELEGRAM_BOT_TOKEN" default:""`
	DownloadDir      string        `envconfig:"DOWNLOAD_DIR" default:"/tmp/songcache"`
	SearchTimeout    time.Duration `envconfig:"SEARCH_TIMEOUT" default:"10s"`
	AcquireTimeout   time.Duration `envconfig:"ACQUIRE_TIMEOUT" default:"15m"`
	InstallYTDLP     bool          `envconfig:"INSTALL_YTDLP" default:"true"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SONGCACHE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
