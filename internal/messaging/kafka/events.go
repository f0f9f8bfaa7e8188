package kafka

// Топики доменных событий.
const (
	// TopicOrderEvents несёт жизненный цикл заказов: размещение и смены статусов.
	TopicOrderEvents = "commerce.order.events"
	// TopicSideEffectDLQ принимает задачи пост-коммитных эффектов,
	// исчерпавшие попытки обработки.
	TopicSideEffectDLQ = "commerce.sideeffect.dlq"
)
