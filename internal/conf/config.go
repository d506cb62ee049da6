package conf

import (
	"fmt"
	"time"
)

type Bootstrap struct {
	Server  *Server  `yaml:"server" json:"server"`
	Data    *Data    `yaml:"data" json:"data"`
	Gateway *Gateway `yaml:"gateway" json:"gateway"`
	Charge  *Charge  `yaml:"charge" json:"charge"`
	Log     *Log     `yaml:"log" json:"log"`
}

type Server struct {
	Http struct {
		Addr    string `yaml:"addr" json:"addr"`
		Timeout string `yaml:"timeout" json:"timeout"`
	} `yaml:"http" json:"http"`
}

type Data struct {
	Database struct {
		Driver          string `yaml:"driver" json:"driver"`
		Source          string `yaml:"source" json:"source"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	} `yaml:"database" json:"database"`
	Redis struct {
		Addr         string `yaml:"addr" json:"addr"`
		Password     string `yaml:"password" json:"password"`
		Db           int32  `yaml:"db" json:"db"`
		ReadTimeout  string `yaml:"read_timeout" json:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout" json:"write_timeout"`
		DialTimeout  string `yaml:"dial_timeout" json:"dial_timeout"`
		PoolSize     int32  `yaml:"pool_size" json:"pool_size"`
		MinIdleConns int32  `yaml:"min_idle_conns" json:"min_idle_conns"`
	} `yaml:"redis" json:"redis"`
}

// Gateway 外部支付网关 (hyp) 配置
type Gateway struct {
	BaseURL  string `yaml:"base_url" json:"base_url"`
	Masof    string `yaml:"masof" json:"masof"`       // 终端号
	ApiKey   string `yaml:"api_key" json:"api_key"`   // 接口密钥
	PassP    string `yaml:"pass_p" json:"pass_p"`     // 网关口令
	Timeout  string `yaml:"timeout" json:"timeout"`   // 单次请求超时
	Currency string `yaml:"currency" json:"currency"` // 结算币种编码
}

// Charge 扣款调度配置
type Charge struct {
	Interval          string `yaml:"interval" json:"interval"`
	BatchSize         int    `yaml:"batch_size" json:"batch_size"`
	LockTTL           string `yaml:"lock_ttl" json:"lock_ttl"`
	InterRequestDelay string `yaml:"inter_request_delay" json:"inter_request_delay"`
	MaxRetries        int    `yaml:"max_retries" json:"max_retries"`
}

type Log struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	Output     string `yaml:"output" json:"output"`
	FilePath   string `yaml:"file_path" json:"file_path"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// GatewayTimeout 解析网关请求超时，解析失败时返回默认值
func (g *Gateway) GatewayTimeout() time.Duration {
	if g == nil {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(g.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ParseDuration 解析配置里的时长字符串，失败时返回 fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate validates the configuration
func (b *Bootstrap) Validate() error {
	if b.Server == nil {
		return fmt.Errorf("server configuration is required")
	}
	if b.Server.Http.Addr == "" {
		return fmt.Errorf("server.http.addr is required")
	}
	if b.Data == nil {
		return fmt.Errorf("data configuration is required")
	}
	if b.Data.Database.Source == "" {
		return fmt.Errorf("data.database.source is required")
	}
	if b.Data.Redis.Addr == "" {
		return fmt.Errorf("data.redis.addr is required")
	}
	if b.Gateway == nil || b.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if b.Gateway.Masof == "" {
		return fmt.Errorf("gateway.masof is required")
	}
	if b.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	return nil
}
