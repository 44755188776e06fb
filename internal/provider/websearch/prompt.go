package websearch

import (
	"fmt"
	"strings"
)

const promptPrefix = "I am a real estate agent, and I am looking to contact real estate agents in "

const promptSuffix = ` that have a good chance of being interested in buying one of my properties or getting me in contact with clients interested in buying. Try to find all the details before returning, but do not hallucinate. Leave a field blank if you need to.
Format each agent exactly like this:
{
firstName: "",
lastName: "",
phoneNumber: "",
email: "",
website: "",
businessName: "",
licenseNum: "",
address: ""
}
Make sure:
The output contains only characters that can be easily stored or parsed (no hidden Unicode, citations, or formatting artifacts).
Do not return anything except the clean JSON array.
EACH ENTRY SHOULD CONTAIN FIRST NAME, LAST NAME, AND EMAIL AT MINIMUM! If you can't get this information for a lead, don't add it.
Prioritize obtaining addresses over license numbers.
Return 10 agents.
If it's not possible to get this many agents with the information you have, then provide the best you have, but again, ONLY RETURN THE CLEAN JSON ARRAY, AND ONLY RETURN ENTRIES WHICH INCLUDE FULL NAMES AND EMAILS!
`

const filterPrefix = "\nIf possible, try to find agents which fit the following criteria: "

// SearchLimitMessage is sent when the model asks for a search after the
// budget is spent.
const SearchLimitMessage = "You've reached the search limit. Please provide your best answer based on the information you've gathered."

// BuildPrompt renders the user prompt for location and an optional filter.
func BuildPrompt(location, dynamicFilter string) string {
	var b strings.Builder
	b.WriteString(promptPrefix)
	b.WriteString(location)
	b.WriteString(promptSuffix)
	if f := strings.TrimSpace(dynamicFilter); f != "" {
		b.WriteString(filterPrefix)
		b.WriteString(f)
	}
	return b.String()
}

// SystemPrompt tells the model how many searches it may run.
func SystemPrompt(maxSearches int) string {
	return fmt.Sprintf("You can use the web_search tool when you need recent or factual information. "+
		"You have a maximum of %d searches, so use them wisely to get as much information as you can.", maxSearches)
}
