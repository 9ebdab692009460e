package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr     string
	Broker       string
	IBKRHost     string
	IBKRPort     int
	IBKRClientID int
	DBDSN        string
	SQLitePath   string
	WSOrigin     string
	LogLevel     string
}

func Load() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.Broker = strings.ToLower(strings.TrimSpace(os.Getenv("BROKER")))
	if c.Broker == "" {
		c.Broker = "sim"
	}
	if c.Broker != "sim" && c.Broker != "ibkr" {
		return c, errors.New("invalid BROKER: use sim or ibkr")
	}
	c.IBKRHost = os.Getenv("IBKR_HOST")
	if c.IBKRHost == "" {
		c.IBKRHost = "127.0.0.1"
	}
	c.IBKRPort = 7497
	if v := os.Getenv("IBKR_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return c, errors.New("invalid IBKR_PORT")
		}
		c.IBKRPort = p
	}
	c.IBKRClientID = 9
	if v := os.Getenv("IBKR_CLIENT_ID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return c, errors.New("invalid IBKR_CLIENT_ID")
		}
		c.IBKRClientID = id
	}
	c.DBDSN = os.Getenv("DB_DSN")
	c.SQLitePath = os.Getenv("SQLITE_PATH")
	if c.DBDSN == "" && c.SQLitePath == "" {
		c.SQLitePath = "data/app.db"
	}
	c.WSOrigin = os.Getenv("WS_ORIGIN")
	if c.WSOrigin == "" {
		c.WSOrigin = "*"
	}
	c.LogLevel = os.Getenv("LOG_LEVEL")
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}
