package oracle

import "fmt"

const gradeSystemPrompt = "You are a helpful assistant that provides radiology report grades. Return only valid JSON."

const styleSystemPrompt = "You are a radiology education expert that evaluates the writing style and structure of radiology reports. Return only valid JSON."

func buildGradePrompt(req GradeRequest) string {
	return fmt.Sprintf(`Objective:

Evaluate the accuracy of a candidate radiology report in comparison to a reference
radiology report composed by expert radiologists. Only include positive findings, not normal findings.
Do not include notes unrelated to clinical findings.

Process Overview:
You will be presented with:
1. The criteria for making a judgment.
2. The reference radiology report.
3. The candidate radiology report.
4. The desired format for your assessment.

1. Criteria for Judgment:
For each candidate report, determine only the clinically significant errors.

Errors can fall into one of these categories:
    a) False report of a finding in the candidate.
    b) Missing a finding present in the reference.
    c) Misidentification of a finding's anatomic location/position.
    d) Misassessment of the severity of a finding.

Note: Concentrate on the clinical findings rather than the report's writing style.
Evaluate only the findings that appear in both reports.

Patient Context:
    Age: %s
    Indication: %s

IMPORTANT NOTES:
    - Evaluate only positive findings, not normal findings. If a finding is normal, it should not be counted in the errors.
    - Ignore all references to prior findings and studies. DO NOT COUNT THEM AS ERRORS.
    - Do NOT penalize the candidate report for omitting specific numeric measurements (e.g., size or dimensions of a nodule/lesion) if the underlying finding is correctly identified. Missing measurements alone is fine since the user writing the candidate report can't measure. They should only be penalized for missing the finding itself.
    - Do NOT penalize omission of age-appropriate findings that are NOT clinically significant in the context of the indication and patient age.
    - Do NOT hallucinate or infer findings absent from both reports.

2. Reference Report:
%s

3. Candidate Report:
%s

4. Reporting Your Assessment:
Format your output as a JSON. Follow this specific format for your output, even if no errors are found:
{
    "Explanation": "<Explanation>",
    "ClinicallySignificantErrors": {
        "a": ["<Error 1>", "<Error 2>", "...", "<Error n>"],
        "b": ["<Error 1>", "<Error 2>", "...", "<Error n>"],
        "c": ["<Error 1>", "<Error 2>", "...", "<Error n>"],
        "d": ["<Error 1>", "<Error 2>", "...", "<Error n>"]
    },
    "MatchedFindings": ["<Finding 1>", "<Finding 2>", "...", "<Finding n>"]
}`, req.Age, req.Indication, req.Reference, req.Candidate)
}

func buildStylePrompt(candidate string) string {
	return fmt.Sprintf(`Objective:

Evaluate the writing style and structure of a radiology report to determine how well it follows professional radiology reporting standards. Focus on style, structure, and systematic evaluation rather than clinical accuracy.

Criteria for Judgment:

Rate each aspect as 0 (poor), 0.5 (adequate), or 1 (excellent):

1. SYSTEMATIC EVALUATION: Does the report cover the major chest X-ray regions?
   - 1.0: Covers most/all major areas (lungs, heart, bones, mediastinum) in organized way
   - 0.5: Covers several major areas but may miss 1-2 or lack organization
   - 0.0: Only mentions 1-2 areas or very disorganized

2. ORGANIZATION AND LANGUAGE: Is the report reasonably well-organized and written in appropriate clinical language?
   - 1.0: Clear organization with complete sentences, clinical language
   - 0.5: Some organization present, mostly complete sentences
   - 0.0: Poor organization, incomplete sentences, non-clinical language

Candidate Report:
%s

NOTES:
    - Do NOT recommend the user to make sections or sub-sections in the report such as Findings, Impression, etc.
    - Provide 1 recommendation per scoring category that scored less than 1.0
    - If a category scores 1.0 (perfect), leave that recommendation field empty ("")
    - Keep each recommendation very concise and actionable

Be concise in your recommendations.
Provide your assessment in the following JSON format:
{
    "systematic_evaluation_score": <0, 0.5, or 1>,
    "organization_language_score": <0, 0.5, or 1>,
    "systematic_evaluation_recommendation": "<Recommendation if score < 1, otherwise empty>",
    "organization_language_recommendation": "<Recommendation if score < 1, otherwise empty>"
}`, candidate)
}
