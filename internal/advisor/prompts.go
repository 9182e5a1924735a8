package advisor

// Prompts for the utility model calls. These are deliberately narrow: each
// call does one job and returns machine-parseable output, so a sloppy
// response degrades a single feature rather than the turn.

const extractNamesPrompt = `You extract product names from assistant answers for an e-commerce advisor.
Given the answer text, list every product name that is mentioned, exactly as it appears in the text.
Respond with a JSON array of strings and nothing else. Respond with [] if no products are mentioned.`

const classifyProblemPrompt = `You classify customer messages for an e-commerce product advisor.
Given the customer's message, identify which problem categories it describes.
Respond with a JSON array of short lowercase tags (for example ["dry skin","joint pain"]) and nothing else.
Respond with [] if the message does not describe a problem.`

const routeIntentPrompt = `You route customer messages in a product advisor conversation.
The advisor previously asked the customer for more detail about their needs.
Decide whether the new message answers that question or changes the subject.
Respond with a single JSON object and nothing else:
{"intent":"funnel","symptoms":["..."]} if the message provides the requested detail,
{"intent":"update_funnel","symptoms":["..."]} if it refines detail given earlier,
{"intent":"chat"} if it changes the subject or asks something unrelated.
"symptoms" lists the needs or complaints stated in the message, as short phrases.`

const selectFunnelPrompt = `You select products for an e-commerce advisor.
You are given a numbered list of candidate products with their codes, and the customer's stated needs.
Choose the two candidates that best address those needs.
Respond with a JSON array containing exactly two product codes from the list and nothing else.
Never invent a code that is not in the list.`

const summarizePrompt = `You maintain a compact running summary of an advisor conversation.
Summarize the following exchange in at most three sentences, keeping product names,
stated customer needs, and any advice given. Respond with the summary text only.`
