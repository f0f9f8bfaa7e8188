package domain

import "time"

// Document — документ хранилища в словарном представлении.
// Алиасы (а не именованные типы) позволяют передавать значения напрямую
// в драйверы, чьи словарные типы тоже определены поверх map[string]any.
type Document = map[string]any

// Filter — фильтр запроса в словаре операторов хранилища
// ($in, $gte, $gt и равенство по ключу).
type Filter = map[string]any

// Update — обновление документа ($set, $inc, $push, $addToSet);
// словарь без операторов трактуется как $set целиком.
type Update = map[string]any

// timeLayout — формат хранения временных меток в документах.
const timeLayout = time.RFC3339Nano

// asString приводит значение документа к строке; нестроки дают пустую строку.
func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asBool приводит значение документа к bool.
func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// asInt64 приводит числовое значение документа к int64. Десериализация JSON
// возвращает float64, драйверы хранилищ — int32/int64, поэтому принимаем всё.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}

// asTime разбирает временную метку документа (строка RFC3339Nano или time.Time).
func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(timeLayout, t)
		if err != nil {
			return time.Time{}
		}
		return parsed
	default:
		return time.Time{}
	}
}

// asSlice приводит значение документа к срезу элементов.
func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// asDocument приводит значение документа к вложенному документу.
func asDocument(v any) Document {
	d, _ := v.(map[string]any)
	return d
}
