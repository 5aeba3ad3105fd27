package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the RugDetector MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCheckContract = mcp.NewTool("check_contract",
	mcp.WithDescription(
		"Analyze a smart contract for rug-pull risk. "+
			"Returns a risk score (0-1), category (low/medium/high), confidence, "+
			"the extracted on-chain features, and a verifiable inference proof. "+
			"Analysis costs USDC; supply a payment transaction hash, or omit it "+
			"to receive the payment requirements."),
	mcp.WithString("contract_address",
		mcp.Required(),
		mcp.Description("The contract address to analyze (e.g. '0x1234...')")),
	mcp.WithString("chain",
		mcp.Description("Chain the contract lives on: 'ethereum' (default), 'bsc', or 'polygon'"),
		mcp.Enum("ethereum", "bsc", "polygon")),
	mcp.WithString("payment_id",
		mcp.Description("Transaction hash of your USDC payment (e.g. '0xabc...'). Each payment is single-use.")),
)

var ToolVerifyProof = mcp.NewTool("verify_proof",
	mcp.WithDescription(
		"Verify an inference proof from a previous contract analysis. "+
			"Confirms the risk score was genuinely produced by the published model "+
			"from the stated features, without re-running the analysis. Free."),
	mcp.WithObject("proof",
		mcp.Required(),
		mcp.Description("The proof object from a check_contract result")),
	mcp.WithObject("features",
		mcp.Required(),
		mcp.Description("The features object from the same result")),
	mcp.WithObject("result",
		mcp.Required(),
		mcp.Description("The scored result: riskScore, riskCategory, confidence, probabilities")),
)

var ToolGetPaymentInfo = mcp.NewTool("get_payment_info",
	mcp.WithDescription(
		"Get payment requirements for contract analysis: price in USDC, "+
			"payment network, chain id, and the recipient address to pay."),
)
