package conf

import (
	"XPusher/internal/utils"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

const CONFIG_FILE = "xpusher.ini"

// placeholder replaced by the RTSP path name in WhipConf.Endpoint.
const pathPlaceholder = "{path}"

// General
type GeneralConf struct {
	ReadTimeoutRaw  string   `ini:"readTimeout"`
	WriteTimeoutRaw string   `ini:"writeTimeout"`
	WriteQueueSize  int      `ini:"writeQueueSize"`
	ReadTimeout     Duration `ini:"-" json:"-"` // filled by Check()
	WriteTimeout    Duration `ini:"-" json:"-"` // filled by Check()
}

// Log
type LogConf struct {
	LogMaxSize   int `ini:"logMaxSize"`
	LogMaxBackup int `ini:"logMaxBackup"`
	LogQueueSize int `ini:"logQueueSize"`
	LogSaveDays  int `ini:"logSaveDays"`
}

// Rtsp
type RtspConf struct {
	Rtsp              bool           `ini:"rtsp"`
	RtspTransports    RTSPTransports `ini:"-" json:"-"` // filled by Check()
	RtspAddress       string         `ini:"rtspAddress"`
	RtpAddress        string         `ini:"rtpAddress"`
	RtcpAddress       string         `ini:"rtcpAddress"`
	MulticastIPRange  string         `ini:"multicastIPRange"`
	MulticastRTPPort  int            `ini:"multicastRTPPort"`
	MulticastRTCPPort int            `ini:"multicastRTCPPort"`

	RtspTransportsRaw string `ini:"rtspTransports"`
}

// Whip
type WhipConf struct {
	Endpoint          string   `ini:"endpoint"`
	BearerToken       string   `ini:"bearerToken"`
	ICEServersRaw     string   `ini:"iceServers"`
	GatherTimeoutRaw  string   `ini:"gatherTimeout"`
	RepostCooldownRaw string   `ini:"repostCooldown"`
	RequestTimeoutRaw string   `ini:"requestTimeout"`
	MaxReposts        int      `ini:"maxReposts"`
	TrickleRestart    bool     `ini:"trickleRestart"`
	MaxPayloadSize    int      `ini:"maxPayloadSize"`
	ICEServers        []string `ini:"-" json:"-"` // filled by Check()
	GatherTimeout     Duration `ini:"-" json:"-"` // filled by Check()
	RepostCooldown    Duration `ini:"-" json:"-"` // filled by Check()
	RequestTimeout    Duration `ini:"-" json:"-"` // filled by Check()
}

// EndpointFor returns the WHIP endpoint a path is published to.
func (w WhipConf) EndpointFor(pathName string) string {
	segments := strings.Split(pathName, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.ReplaceAll(w.Endpoint, pathPlaceholder, strings.Join(segments, "/"))
}

type Config struct {
	Ini *ini.File `ini:"-" json:"-"`

	// General
	General GeneralConf `ini:"general"`

	// Log
	Log LogConf `ini:"log"`

	// Rtsp
	Rtsp RtspConf `ini:"rtsp"`

	// Whip
	Whip WhipConf `ini:"whip"`
}

// Default returns a configuration holding the values used for missing keys.
func Default() *Config {
	return &Config{
		General: GeneralConf{
			ReadTimeoutRaw:  "10s",
			WriteTimeoutRaw: "10s",
			WriteQueueSize:  512,
		},
		Log: LogConf{
			LogMaxSize:   100,
			LogMaxBackup: 5,
			LogQueueSize: 1000,
			LogSaveDays:  7,
		},
		Rtsp: RtspConf{
			Rtsp:              true,
			RtspAddress:       ":8554",
			RtpAddress:        ":8000",
			RtcpAddress:       ":8001",
			MulticastIPRange:  "224.1.0.0/16",
			MulticastRTPPort:  8002,
			MulticastRTCPPort: 8003,
			RtspTransportsRaw: "udp,multicast,tcp",
		},
		Whip: WhipConf{
			ICEServersRaw:     "stun:stun.l.google.com:19302",
			GatherTimeoutRaw:  "5s",
			RepostCooldownRaw: "5s",
			RequestTimeoutRaw: "10s",
			TrickleRestart:    true,
			MaxPayloadSize:    1200,
		},
	}
}

func (c *Config) Check() error {

	err := c.General.ReadTimeout.Marshal(c.General.ReadTimeoutRaw)
	if err != nil {
		return err
	}

	err = c.General.WriteTimeout.Marshal(c.General.WriteTimeoutRaw)
	if err != nil {
		return err
	}

	err = c.Rtsp.RtspTransports.Marshal(c.Rtsp.RtspTransportsRaw)
	if err != nil {
		return err
	}

	if c.Whip.Endpoint == "" {
		return fmt.Errorf("whip.endpoint is empty")
	}
	u, err := url.Parse(strings.ReplaceAll(c.Whip.Endpoint, pathPlaceholder, "x"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("whip.endpoint '%s' is not an http(s) URL", c.Whip.Endpoint)
	}

	c.Whip.ICEServers = nil
	for _, s := range strings.Split(c.Whip.ICEServersRaw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			c.Whip.ICEServers = append(c.Whip.ICEServers, s)
		}
	}

	for _, d := range []struct {
		name string
		raw  string
		dst  *Duration
	}{
		{"whip.gatherTimeout", c.Whip.GatherTimeoutRaw, &c.Whip.GatherTimeout},
		{"whip.repostCooldown", c.Whip.RepostCooldownRaw, &c.Whip.RepostCooldown},
		{"whip.requestTimeout", c.Whip.RequestTimeoutRaw, &c.Whip.RequestTimeout},
	} {
		err = d.dst.Marshal(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %v", d.name, err)
		}
		if time.Duration(*d.dst) < 0 {
			return fmt.Errorf("%s: negative duration", d.name)
		}
	}

	if c.Whip.MaxReposts < 0 {
		return fmt.Errorf("whip.maxReposts: negative value")
	}
	if c.Whip.MaxPayloadSize <= 12 {
		return fmt.Errorf("whip.maxPayloadSize: too small")
	}

	return nil
}

// Parse reads a configuration from ini data. Missing keys keep Default() values.
func Parse(data []byte) (*Config, error) {
	return load(data)
}

func load(source interface{}) (cfg *Config, err error) {
	cfg = Default()
	cfg.Ini, err = ini.Load(source)
	if err != nil {
		return nil, err
	}
	cfg.Ini.NameMapper = nil
	err = cfg.Ini.MapTo(cfg)
	if err != nil {
		return nil, err
	}
	err = cfg.Check()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func Load(file string) (cfg *Config, err error) {
	iFile := utils.FileTotalPath(file)
	if !utils.Exist(iFile) {
		return nil, fmt.Errorf("Config.Load %s error:文件不存在", file)
	}
	cfg, err = load(iFile)
	if err != nil {
		return nil, fmt.Errorf("Config.Load %s error:%v", file, err)
	}
	return cfg, nil
}
