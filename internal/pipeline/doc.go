// Package pipeline provides the release pipeline execution engine.
//
// A pipeline is an ordered list of stages. Each stage holds actions that
// carry a runOrder: actions sharing a runOrder run concurrently, and distinct
// runOrders run in ascending order. The first failing action halts its stage
// and the whole pipeline.
//
// # Variables
//
// An action that declares a namespace publishes its output variables under
// it. Later actions consume them from their env using #{Namespace.KEY}:
//
//	stages:
//	  - name: Build
//	    actions:
//	      - name: Build
//	        type: build
//	        namespace: BuildVariables
//	  - name: Staging
//	    actions:
//	      - name: Deploy
//	        type: deploy
//	        run_order: 1
//	        namespace: StagingVariables
//	        env:
//	          ARTIFACTS_PATH: "#{BuildVariables.ARTIFACTS_PATH}"
//	      - name: Test
//	        type: test
//	        run_order: 2
//	        env:
//	          API_ENDPOINT: "#{StagingVariables.API_ENDPOINT}"
//
// NewExecutor rejects any reference to a namespace that is not produced by
// an action completing strictly earlier (an earlier stage, or a lower
// runOrder in the same stage).
//
// # Webhook Contract
//
// Webhook actions POST the resolved ActionInput and expect an ActionOutput:
//
//	POST <webhook_url>
//	Content-Type: application/json
//
//	{"run_id": "...", "stage": "...", "action": "...", "env": {...}}
//
// Response:
//
//	{"variables": {"KEY": "value"}, "artifacts": {"Name": {"location": "..."}}}
package pipeline
