package assistant

import (
	"fmt"
	"strconv"

	"github.com/spamguard/spamrag/structured"
)

const contextualizeSystemPrompt = `Given a chat history and the latest user question, which might reference context in the chat history, formulate a standalone question that can be understood without the chat history.
Do NOT answer the question. Reformulate it only if needed, otherwise return it exactly as is.
The reformulated question must always be in spanish.
Also detect the language the user wrote in, and classify the topic of the conversation as one of: autos, salud. If it is neither, use Null.`

const contextualizeHumanTemplate = "last user question: %s"

const multiquerySystemPrompt = `You are an AI language model assistant. Your task is to generate at least three different versions of the given user question to retrieve relevant documents from a vector database.
Generate paraphrases, a version using synonyms and a more generic version of the question, always in spanish.
For every version extract the entities used to filter the search:
- country: country names that exist, translated to spanish (USA = Estados Unidos). Null if none.
- region: regions that exist. Null if none.
- year: the year or comma separated years mentioned in the question. The current year is %d. Null if none.
Follow the format of the examples.`

const synthesisSystemPrompt = `You are an assistant that answers questions using only the provided context.
If the context does not contain the answer, say that you do not have enough information. Do not make up facts.
Be concise and cite the countries and years of the information you use.`

const synthesisHumanTemplate = "user_question: %s\n\n# Context: %s\n\nPlease respond in this language: %s"

const followupSystemPrompt = `Given the context and the user question, suggest two follow-up questions the user could ask next.
Each suggestion must be answerable with the context. Provide the full question and a very concise version to display as a button.`

const followupHumanTemplate = "#Context: %s \n User question: %s"

func multiquerySystem(currentYear int) string {
	return fmt.Sprintf(multiquerySystemPrompt, currentYear)
}

// selfQueryExamples guide entity extraction during expansion.
func selfQueryExamples(currentYear int) []structured.Example {
	year := strconv.Itoa(currentYear)
	return []structured.Example{
		{
			Input: "¿Cuáles fueron los logros de Brasil en 2022?",
			Output: Queries{Queries: []Query{
				{Query: "¿Cuáles fueron los logros de Brasil en 2022?", Country: "Brasil", Region: NullEntity, Year: "2022"},
				{Query: "¿Qué avances consiguió Brasil durante 2022?", Country: "Brasil", Region: NullEntity, Year: "2022"},
				{Query: "Resultados obtenidos por Brasil", Country: "Brasil", Region: NullEntity, Year: NullEntity},
			}},
		},
		{
			Input: "What is the health budget of the USA this year?",
			Output: Queries{Queries: []Query{
				{Query: "¿Cuál es el presupuesto de salud de Estados Unidos este año?", Country: "Estados Unidos", Region: NullEntity, Year: year},
				{Query: "¿Cuánto invierte Estados Unidos en sanidad en " + year + "?", Country: "Estados Unidos", Region: NullEntity, Year: year},
				{Query: "Gasto público en salud", Country: NullEntity, Region: NullEntity, Year: NullEntity},
			}},
		},
		{
			Input: "Ventas de autos eléctricos en Europa en 2020 y 2021",
			Output: Queries{Queries: []Query{
				{Query: "Ventas de autos eléctricos en Europa en 2020 y 2021", Country: NullEntity, Region: "Europa", Year: "2020, 2021"},
				{Query: "Matriculaciones de vehículos eléctricos en Europa", Country: NullEntity, Region: "Europa", Year: "2020, 2021"},
				{Query: "Mercado de vehículos eléctricos", Country: NullEntity, Region: NullEntity, Year: NullEntity},
			}},
		},
	}
}
