package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "polyglot",
	Level: hclog.LevelFromString("INFO"),
})
