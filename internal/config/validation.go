package config

import (
	"fmt"
	"regexp"
)

func validate(c *Config) error {
	if c.CacheDir == "" {
		return fmt.Errorf("cache dir must be set")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output dir must be set")
	}
	if c.RateRPS <= 0 {
		return fmt.Errorf("rate rps must be > 0")
	}
	if c.JitterMax < c.JitterMin {
		return fmt.Errorf("jitter max must be >= jitter min")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be > 0")
	}
	for name, shop := range c.Shops {
		if shop.LoginURLPattern != "" {
			if _, err := regexp.Compile(shop.LoginURLPattern); err != nil {
				return fmt.Errorf("shop %s: bad login url pattern: %w", name, err)
			}
		}
		if shop.OrderMax < 0 {
			return fmt.Errorf("shop %s: order max must be >= 0", name)
		}
	}
	return nil
}
