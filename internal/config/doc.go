// Package config handles configuration loading for whisperlog.
//
// Configuration is loaded from YAML files with ${VAR_NAME} environment
// variable expansion and Go duration syntax for timeouts:
//
//	database:
//	  path: "~/.local/share/whisperlog/default.db"
//
//	sync:
//	  base_url: "${WHISPERLOG_SYNC_URL}"
//	  push_batch_limit: 500
//	  request_timeout: "15s"
//
//	retention:
//	  max_history_turns: 200
//
//	api:
//	  addr: "127.0.0.1:7968"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Sync is disabled when sync.base_url is empty; any push or pull attempt then
// fails with a misconfiguration error rather than being silently skipped.
package config
