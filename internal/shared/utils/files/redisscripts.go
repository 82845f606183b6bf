package files

import (
	"embed"
	"fmt"
)

const (
	LuaCGroupAckDelMsg  = "cgroup_xack_xdel_atomic.lua"
	LuaTryClaimOrInsert = "try_claim_or_insert.lua"
)

//go:embed db/redis/scripts/*.lua
var LuaScripts embed.FS

func GetLuaScript(name string) (string, error) {
	content, err := LuaScripts.ReadFile("db/redis/scripts/" + name)
	if err != nil {
		return "", fmt.Errorf("failed to read embedded Lua script: %s, error: %v", name, err)
	}
	return string(content), nil
}
