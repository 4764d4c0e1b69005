package config

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

func GetRedisConfig() (RedisConfig, error) {
	var cfg RedisConfig
	if err := ParseEnv(&cfg); err != nil {
		return RedisConfig{}, err
	}
	return cfg, nil
}
