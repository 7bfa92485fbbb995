package service

import (
	"strings"

	"chatbot/internal/model"
)

// CrisisMarker is the sentinel the model emits when it detects risk.
const CrisisMarker = "RIESGO_CRISIS"

// Fixed replies.
const (
	EmptyHistoryPlaceholder = "Aún no hay mensajes en esta sesión."

	CrisisReply = "ALERTA CRÍTICA: Hemos detectado una situación de riesgo. Por favor, contacta " +
		"inmediatamente a los Servicios Psicológicos Universitarios: [Número de teléfono] o [Link de ayuda]."

	ApologyReply = "Lo siento, tengo problemas técnicos en este momento. Por favor, asegúrate de que " +
		"tu clave Gemini sea válida y el servicio esté disponible. Inténtalo de nuevo más tarde."

	// parseFallback stands in for a reply whose shape could not be verified.
	parseFallback = CrisisMarker + ": Error de formato en la respuesta de la IA. " +
		"Mensaje de emergencia activado por fallo de sistema."
)

const systemInstructions = `Eres un asistente de apoyo emocional para estudiantes universitarios y su primer punto de contacto.
Escucha, valida lo que siente la persona y responde con empatía, en un tono cálido y nunca invasivo.

Reglas de seguridad:
1. No diagnostiques. Nunca emitas juicios de valor, diagnósticos clínicos ni consejos terapéuticos. Si te piden un diagnóstico, vuelve a escuchar.
2. Si detectas riesgo de autolesión o suicidio, incluye el texto ` + CrisisMarker + ` en tu respuesta.

Este es el historial de la conversación. Si no hay historial, ignóralo.

--- HISTORIAL DE CONVERSACIÓN ---
`

const historySeparator = "\n---\n"

// FormatHistory renders interactions given newest-first as a chronological
// transcript. An empty slice yields EmptyHistoryPlaceholder.
func FormatHistory(newestFirst []model.Interaction) string {
	if len(newestFirst) == 0 {
		return EmptyHistoryPlaceholder
	}

	turns := make([]string, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		it := newestFirst[i]
		turns = append(turns, "Usuario: "+it.UserMessage+"\nAsistente: "+it.AssistantReply)
	}
	return strings.Join(turns, historySeparator)
}

// BuildPrompt assembles the instruction block, the formatted history and the
// new message. Text is kept verbatim; escaping happens when the request body
// is encoded.
func BuildPrompt(history, message string) string {
	var b strings.Builder
	b.Grow(len(systemInstructions) + len(history) + len(message) + 128)
	b.WriteString(systemInstructions)
	b.WriteString(history)
	b.WriteString("\n---\n\n")
	b.WriteString("Analiza el mensaje del usuario y responde. Si pregunta por manejo emocional, puedes sugerir ejercicios sencillos.\n\n")
	b.WriteString("Mensaje del usuario:\n")
	b.WriteString(message)
	return b.String()
}
