package domain

import (
	"strings"
	"time"
)

// LogEvent — запись агрегатора логов. Только добавляется, не изменяется.
type LogEvent struct {
	ID         string
	Exchange   string
	RoutingKey string
	Level      string
	Service    string
	Payload    []byte
	Timestamp  time.Time
}

const defaultLogLevel = "info"

// ParseLogRoutingKey разбирает ключ вида logs.<level>.<service>.
// Для прочих ключей (команды) возвращает уровень info и пустой сервис.
func ParseLogRoutingKey(routingKey string) (level, service string) {
	parts := strings.Split(routingKey, ".")
	if len(parts) >= 2 && parts[0] == "logs" && parts[1] != "" {
		level = parts[1]
		if len(parts) >= 3 {
			service = strings.Join(parts[2:], ".")
		}
		return level, service
	}
	return defaultLogLevel, ""
}
