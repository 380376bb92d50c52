package main

type Settings struct {
	Port        int    `env:"PORT,default=3000"`
	BasePath    string `env:"BASE_PATH,default=/"`
	APIBaseURL  string `env:"API_BASE_URL,default=http://127.0.0.1:8000"`
	APISecret   string `env:"API_SECRET,required=true"`
	RedisAddr   string `env:"REDIS_ADDR,default=127.0.0.1:6379"`
	LogEncoding string `env:"LOG_ENCODING,default=console"`
}
