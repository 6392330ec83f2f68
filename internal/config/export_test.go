package config

func (c *Config) ReadEnv(lookup func(string) (string, bool)) error { return c.readEnv(lookup) }
