package service

import (
	"fmt"
	"strings"

	"github.com/digkill/salonstudio/internal/models"
)

const systemPrompt = `You are an expert hair colorist and stylist assisting a salon professional.
Answer with a single JSON object only, no prose, matching the requested schema exactly.`

const analysisPrompt = `Analyze the customer's hair in the photo. Respond with JSON:
{"hair_type": string, "texture": string, "condition": string, "current_color": string,
 "damage_level": integer 0-10, "porosity": string, "observations": [string], "recommendations": [string]}`

const compositePrompt = `The photos show the same customer's hair from these angles, in order: %s.
Respond with JSON:
{"summary": string,
 "views": [{"angle": one of "front","back","left","right","top", "notes": string}],
 "overall": {"hair_type": string, "texture": string, "condition": string, "current_color": string,
             "damage_level": integer 0-10, "porosity": string, "observations": [string], "recommendations": [string]}}`

const stylePrompt = `Suggest hairstyles that suit the customer's face shape and hair in the photo. Respond with JSON:
{"face_shape": string,
 "styles": [{"name": string, "description": string, "suitability": integer 0-100, "maintenance": string}]}`

const recipePrompt = `The first photo is the customer's current hair, the second is the desired result.
Write a professional %s recipe to get from the first to the second. Respond with JSON:
{"treatment_type": "%s", "summary": string,
 "steps": [{"order": integer from 1, "title": string, "instructions": string,
            "products": [{"name": string, "amount": string}], "duration_minutes": integer}],
 "estimated_total_minutes": integer, "cautions": [string]}`

const timelinePrompt = `The customer is getting a %s treatment. Predict how the hair in the photo will look
over the next %d weeks, one entry per week starting at week 1. For every week also write an image_prompt
describing the predicted look for an image generator. Respond with JSON:
{"summary": string,
 "weeks": [{"week": integer, "description": string, "image_prompt": string}],
 "maintenance_tips": [string]}`

func buildCompositePrompt(angles []string) string {
	return fmt.Sprintf(compositePrompt, strings.Join(angles, ", "))
}

func buildRecipePrompt(t models.TreatmentType) string {
	return fmt.Sprintf(recipePrompt, t, t)
}

func buildTimelinePrompt(t models.TreatmentType, weeks int) string {
	return fmt.Sprintf(timelinePrompt, t, weeks)
}

func weekImagePrompt(base string, week int) string {
	return fmt.Sprintf("Photorealistic salon photo of the same person, week %d after treatment. %s", week, base)
}
