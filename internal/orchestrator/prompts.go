package orchestrator

import (
	"fmt"
	"strings"

	"github.com/MagClaw/MagClaw/internal/plan"
)

const planPromptTemplate = `You are the orchestrator of a team of workers. A user has given you a task.

Task: %s

Available workers:
%s
Decide whether the task needs a multi-step plan. If it is trivially answerable, set needs_plan to false and put the answer in response. Otherwise produce an ordered plan where every step is assigned to exactly one worker by name.

Respond with a single JSON object:
{
  "task": "restatement of the task",
  "needs_plan": true or false,
  "response": "direct answer when needs_plan is false, otherwise empty",
  "plan_summary": "one-paragraph summary of the plan",
  "steps": [{"title": "...", "details": "...", "agent_name": "..."}]
}`

const replanPromptTemplate = `The current plan is no longer workable.

Task: %s
Reason for replanning: %s

Steps already completed (these are done and must not be repeated):
%s
Available workers:
%s
Produce the remaining steps only. Respond with a single JSON object:
{
  "task": "restatement of the task",
  "needs_plan": true,
  "response": "",
  "plan_summary": "summary of the remaining work",
  "steps": [{"title": "...", "details": "...", "agent_name": "..."}]
}`

const ledgerPromptTemplate = `You are monitoring progress on this task.

Task: %s

Current step (%d of %d): %s
Step details: %s
Assigned worker: %s

Eligible workers:
%s
Review the conversation so far and respond with a single JSON object:
{
  "is_current_step_complete": true or false,
  "need_to_replan": true or false,
  "replan_reason": "why, when need_to_replan is true",
  "instruction_or_question": "the exact instruction or question for the next speaker",
  "next_speaker": "name of one eligible worker",
  "progress_summary": "everything learned so far that is worth keeping"
}`

const finalAnswerPromptTemplate = `The task is finished or has been stopped.

Task: %s

Information collected during the run:
%s

Write the final answer for the user. Be direct; include the concrete results.`

func planPrompt(task, workers string) string {
	return fmt.Sprintf(planPromptTemplate, task, workers)
}

func replanPrompt(task, reason string, completed []plan.Step, workers string) string {
	var sb strings.Builder
	if len(completed) == 0 {
		sb.WriteString("(none)\n")
	}
	for i, s := range completed {
		fmt.Fprintf(&sb, "%d. %s [%s]\n", i+1, s.Title, s.AgentName)
	}
	return fmt.Sprintf(replanPromptTemplate, task, reason, sb.String(), workers)
}

func ledgerPrompt(task string, stepIdx, total int, step plan.Step, workers string) string {
	return fmt.Sprintf(ledgerPromptTemplate, task, stepIdx+1, total, step.Title, step.Details, step.AgentName, workers)
}

func finalAnswerPrompt(task, collected string) string {
	if strings.TrimSpace(collected) == "" {
		collected = "(nothing was recorded)"
	}
	return fmt.Sprintf(finalAnswerPromptTemplate, task, collected)
}

const planFeedbackPrompt = `The user reviewed the plan and replied:

%s

Revise the plan taking this feedback into account. Respond with the same JSON object shape as before.`
